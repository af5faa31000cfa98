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

package client

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"strings"
	"sync"

	"github.com/apache/htrace-htraced/internal/common"
)

// HrpcClient speaks htraced's binary RPC protocol directly, rather than
// REST.  It is a thin wrapper around net/rpc's Client driven by a
// ClientCodec that mirrors the server's hrpcCodec: the same 20-byte
// big-endian headers, the same msgpack body encoding.
type HrpcClient struct {
	rpcClient *rpc.Client
}

func DialHrpc(addr string) (*HrpcClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &HrpcClient{rpcClient: rpc.NewClientWithCodec(newHrpcClientCodec(conn))}, nil
}

func (c *HrpcClient) Close() error {
	return c.rpcClient.Close()
}

func (c *HrpcClient) WriteSpans(spans []*common.Span, defaultTrid string) error {
	req := &common.WriteSpansReq{DefaultTrid: defaultTrid, Spans: spans}
	resp := &common.WriteSpansResp{}
	return c.rpcClient.Call("HrpcMethods.WriteSpans", req, resp)
}

func (c *HrpcClient) Query(query *common.Query) ([]*common.Span, error) {
	var spans []*common.Span
	if err := c.rpcClient.Call("HrpcMethods.Query", query, &spans); err != nil {
		return nil, err
	}
	return spans, nil
}

func (c *HrpcClient) GetServerVersion() (*common.ServerVersion, error) {
	resp := &common.ServerVersion{}
	if err := c.rpcClient.Call("HrpcMethods.GetServerVersion", &struct{}{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HrpcClient) GetServerDebugInfo() (*common.ServerDebugInfo, error) {
	resp := &common.ServerDebugInfo{}
	if err := c.rpcClient.Call("HrpcMethods.GetServerDebugInfo", &common.ServerDebugInfoReq{}, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// The client side of the wire format hrpc.go's hrpcCodec implements on the
// server: a fixed HrpcRequestHeader followed by a msgpack body, answered by
// a fixed HrpcResponseHeader followed by an optional error string and/or a
// msgpack body.
type hrpcClientCodec struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	lock     sync.Mutex
	pending  map[uint64]uint32
	lastResp common.HrpcResponseHeader
}

func newHrpcClientCodec(conn net.Conn) *hrpcClientCodec {
	return &hrpcClientCodec{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		pending: make(map[uint64]uint32),
	}
}

func (c *hrpcClientCodec) WriteRequest(req *rpc.Request, body interface{}) error {
	name := strings.TrimPrefix(req.ServiceMethod, "HrpcMethods.")
	methodId, ok := common.HrpcMethodNameToId[name]
	if !ok {
		return fmt.Errorf("unknown HRPC method %q", req.ServiceMethod)
	}
	bodyBytes, err := common.EncodeWithHandle(body)
	if err != nil {
		return err
	}

	c.lock.Lock()
	c.pending[req.Seq] = methodId
	c.lock.Unlock()

	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:4], common.HRPC_MAGIC)
	binary.BigEndian.PutUint32(buf[4:8], methodId)
	binary.BigEndian.PutUint64(buf[8:16], req.Seq)
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(bodyBytes)))
	if _, err := c.writer.Write(buf); err != nil {
		return err
	}
	if _, err := c.writer.Write(bodyBytes); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *hrpcClientCodec) ReadResponseHeader(resp *rpc.Response) error {
	buf := make([]byte, 20)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return err
	}
	c.lastResp = common.HrpcResponseHeader{
		Seq:       binary.BigEndian.Uint64(buf[0:8]),
		MethodId:  binary.BigEndian.Uint32(buf[8:12]),
		ErrLength: binary.BigEndian.Uint32(buf[12:16]),
		Length:    binary.BigEndian.Uint32(buf[16:20]),
	}
	c.lock.Lock()
	methodId, ok := c.pending[c.lastResp.Seq]
	delete(c.pending, c.lastResp.Seq)
	c.lock.Unlock()
	if !ok {
		methodId = c.lastResp.MethodId
	}
	resp.Seq = c.lastResp.Seq
	resp.ServiceMethod = "HrpcMethods." + common.HrpcMethodIdToMethodName[methodId]
	if c.lastResp.ErrLength > 0 {
		errBytes := make([]byte, c.lastResp.ErrLength)
		if _, err := io.ReadFull(c.reader, errBytes); err != nil {
			return err
		}
		resp.Error = string(errBytes)
	}
	return nil
}

func (c *hrpcClientCodec) ReadResponseBody(body interface{}) error {
	if c.lastResp.Length == 0 {
		return nil
	}
	buf := make([]byte, c.lastResp.Length)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	return common.DecodeWithHandle(buf, body)
}

func (c *hrpcClientCodec) Close() error {
	return c.conn.Close()
}
