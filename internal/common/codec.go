/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package common

import "github.com/ugorji/go/codec"

// The msgpack handle used for every on-disk and wire encoding of spans and
// shard metadata.  msgpack's tagged-field encoding means unknown fields are
// skipped on decode rather than erroring, which is what gives the on-disk
// form forward compatibility across layout versions.
var MsgpackHandle = &codec.MsgpackHandle{}

func init() {
	MsgpackHandle.WriteExt = true
}

// Encodes a span to its on-disk/wire binary form.
func EncodeSpan(span *Span) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, MsgpackHandle)
	if err := enc.Encode(span); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decodes a span from its on-disk/wire binary form.
func DecodeSpan(b []byte) (*Span, error) {
	span := &Span{}
	dec := codec.NewDecoderBytes(b, MsgpackHandle)
	if err := dec.Decode(span); err != nil {
		return nil, err
	}
	return span, nil
}

// Generic msgpack encode/decode, used by the HRPC transport for request and
// response bodies of varying shape.
func EncodeWithHandle(v interface{}) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, MsgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf, nil
}

func DecodeWithHandle(b []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(b, MsgpackHandle)
	return dec.Decode(v)
}
