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

package htraced

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"strings"
	"sync"
	"time"

	"github.com/apache/htrace-htraced/internal/common"
	"github.com/apache/htrace-htraced/internal/conf"
)

// HrpcRequestHeader is Magic,MethodId uint32 / Seq uint64 / Length uint32:
// 4+4+8+4 = 20 bytes, all big-endian.
func readHrpcRequestHeader(r io.Reader) (*common.HrpcRequestHeader, error) {
	buf := make([]byte, 20)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return &common.HrpcRequestHeader{
		Magic:    binary.BigEndian.Uint32(buf[0:4]),
		MethodId: binary.BigEndian.Uint32(buf[4:8]),
		Seq:      binary.BigEndian.Uint64(buf[8:16]),
		Length:   binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// HrpcResponseHeader is Seq uint64 / MethodId,ErrLength,Length uint32:
// 8+4+4+4 = 20 bytes, all big-endian.
func writeHrpcResponseHeader(w io.Writer, hdr *common.HrpcResponseHeader) error {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint64(buf[0:8], hdr.Seq)
	binary.BigEndian.PutUint32(buf[8:12], hdr.MethodId)
	binary.BigEndian.PutUint32(buf[12:16], hdr.ErrLength)
	binary.BigEndian.PutUint32(buf[16:20], hdr.Length)
	_, err := w.Write(buf)
	return err
}

// The binary RPC boundary adapter (the other half of Component I). Methods
// are dispatched through stdlib net/rpc with a custom ServerCodec that
// speaks htraced's length-prefixed, msgpack-bodied wire format instead of
// net/rpc's default gob encoding.

type HrpcServer struct {
	store    *DataStore
	lg       *common.Logger
	listener net.Listener
	rpcSrv   *rpc.Server
	ioTimeo  time.Duration
}

// The RPC-visible methods. net/rpc requires exported methods of the shape
// func(*T) Method(req, *resp) error on a registered receiver.
type HrpcMethods struct {
	store *DataStore
}

func (m *HrpcMethods) WriteSpans(req *common.WriteSpansReq, resp *common.WriteSpansResp) error {
	m.store.WriteSpans(req.Addr, req.DefaultTrid, req.Spans)
	return nil
}

func (m *HrpcMethods) Query(query *common.Query, resp *[]*common.Span) error {
	spans, _, err := m.store.HandleQuery(query)
	if err != nil {
		return err
	}
	*resp = spans
	return nil
}

func (m *HrpcMethods) GetServerVersion(req *struct{}, resp *common.ServerVersion) error {
	resp.ReleaseVersion = ReleaseVersion
	resp.GitVersion = GitVersion
	return nil
}

func (m *HrpcMethods) GetServerDebugInfo(req *common.ServerDebugInfoReq, resp *common.ServerDebugInfo) error {
	resp.StackTraces = common.GetStackTraces()
	resp.GCStats = common.GetGCStats()
	return nil
}

func NewHrpcServer(cnf *conf.Config, store *DataStore, lg *common.Logger, listener net.Listener) *HrpcServer {
	rpcSrv := rpc.NewServer()
	rpcSrv.RegisterName("HrpcMethods", &HrpcMethods{store: store})
	ioTimeo := time.Millisecond * time.Duration(cnf.GetInt64(conf.HTRACE_HRPC_IO_TIMEOUT_MS))
	return &HrpcServer{store: store, lg: lg, listener: listener, rpcSrv: rpcSrv, ioTimeo: ioTimeo}
}

// Accepts connections until the listener is closed, serving each on its own
// hrpcCodec.
func (hs *HrpcServer) Run() {
	for {
		conn, err := hs.listener.Accept()
		if err != nil {
			hs.lg.Infof("HrpcServer: listener closed: %s\n", err.Error())
			return
		}
		go hs.rpcSrv.ServeCodec(newHrpcCodec(conn, hs.lg, hs.ioTimeo))
	}
}

func (hs *HrpcServer) Close() error {
	return hs.listener.Close()
}

// Translates between net/rpc's ServerCodec interface and htraced's wire
// format: a fixed HrpcRequestHeader/HrpcResponseHeader followed by a
// msgpack-encoded body of exactly Length bytes.
type hrpcCodec struct {
	conn    net.Conn
	lg      *common.Logger
	reader  *bufio.Reader
	writer  *bufio.Writer
	ioTimeo time.Duration

	lock    sync.Mutex
	pending map[uint64]string
	bodyLen uint32
}

func newHrpcCodec(conn net.Conn, lg *common.Logger, ioTimeo time.Duration) *hrpcCodec {
	return &hrpcCodec{
		conn:    conn,
		lg:      lg,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		ioTimeo: ioTimeo,
		pending: make(map[uint64]string),
	}
}

// asDeadlineExceeded wraps a timeout error from the underlying conn so
// callers can recognize it as a deadline, rather than some other I/O
// failure, without depending on net.Error directly.
func asDeadlineExceeded(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("hrpc: deadline exceeded: %s", err.Error())
	}
	return err
}

func (c *hrpcCodec) ReadRequestHeader(req *rpc.Request) error {
	if c.lg.TraceEnabled() {
		c.lg.Tracef("hrpcCodec: reading request header from %s\n", c.conn.RemoteAddr())
	}
	if c.ioTimeo > 0 {
		c.conn.SetDeadline(time.Now().Add(c.ioTimeo))
	}
	hdr, err := readHrpcRequestHeader(c.reader)
	if err != nil {
		return asDeadlineExceeded(err)
	}
	if hdr.Magic != common.HRPC_MAGIC {
		return fmt.Errorf("bad HRPC magic number 0x%08x", hdr.Magic)
	}
	name, ok := common.HrpcMethodIdToMethodName[hdr.MethodId]
	if !ok {
		return fmt.Errorf("unknown HRPC method id %d", hdr.MethodId)
	}
	c.lock.Lock()
	c.pending[hdr.Seq] = name
	c.lock.Unlock()
	req.ServiceMethod = "HrpcMethods." + name
	req.Seq = hdr.Seq
	c.bodyLen = hdr.Length
	if c.lg.DebugEnabled() {
		c.lg.Debugf("hrpcCodec: read request header seq=%d method=%s from %s\n",
			hdr.Seq, name, c.conn.RemoteAddr())
	}
	return nil
}

func (c *hrpcCodec) ReadRequestBody(body interface{}) error {
	buf := make([]byte, c.bodyLen)
	if _, err := io.ReadFull(c.reader, buf); err != nil {
		return asDeadlineExceeded(err)
	}
	// The deadline only bounds socket I/O, not in-process decoding/handling.
	if c.ioTimeo > 0 {
		c.conn.SetDeadline(time.Time{})
	}
	if body == nil {
		return nil
	}
	return common.DecodeWithHandle(buf, body)
}

func (c *hrpcCodec) WriteResponse(resp *rpc.Response, body interface{}) error {
	if c.ioTimeo > 0 {
		c.conn.SetDeadline(time.Now().Add(c.ioTimeo))
	}
	c.lock.Lock()
	name := c.pending[resp.Seq]
	delete(c.pending, resp.Seq)
	c.lock.Unlock()
	methodId, ok := common.HrpcMethodNameToId[name]
	if !ok {
		methodId, _ = common.HrpcMethodNameToId[strings.TrimPrefix(resp.ServiceMethod, "HrpcMethods.")]
	}

	var errBytes []byte
	if resp.Error != "" {
		errBytes = []byte(resp.Error)
		if len(errBytes) > common.MAX_HRPC_ERROR_LENGTH {
			errBytes = errBytes[:common.MAX_HRPC_ERROR_LENGTH]
		}
		body = nil
	}
	var bodyBytes []byte
	if body != nil {
		b, err := common.EncodeWithHandle(body)
		if err != nil {
			return err
		}
		bodyBytes = b
	}
	hdr := &common.HrpcResponseHeader{
		Seq:       resp.Seq,
		MethodId:  methodId,
		ErrLength: uint32(len(errBytes)),
		Length:    uint32(len(bodyBytes)),
	}
	if err := writeHrpcResponseHeader(c.writer, hdr); err != nil {
		return asDeadlineExceeded(err)
	}
	if len(errBytes) > 0 {
		if _, err := c.writer.Write(errBytes); err != nil {
			return asDeadlineExceeded(err)
		}
	}
	if len(bodyBytes) > 0 {
		if _, err := c.writer.Write(bodyBytes); err != nil {
			return asDeadlineExceeded(err)
		}
	}
	return asDeadlineExceeded(c.writer.Flush())
}

func (c *hrpcCodec) Close() error {
	return c.conn.Close()
}
