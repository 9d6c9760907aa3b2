package mqtt

import (
	"bufio"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mochi-mqtt/server/v2/packets"
	"golang.org/x/time/rate"

	"github.com/deskpet/pet-gateway/internal/core/routing"
	"github.com/deskpet/pet-gateway/internal/gateway/topic"
)

// uplink 等待转发到控制面的上行消息
type uplink struct {
	kind     topic.Kind
	qos      byte
	packetID uint16
	payload  []byte
}

// conn 一个设备连接
type conn struct {
	w  *Worker
	nc net.Conn
	r  *bufio.Reader

	remote    string
	deviceID  string
	version   byte
	keepalive time.Duration

	writeMu  sync.Mutex
	packetID atomic.Uint32
	limiter  *rate.Limiter
	uplinks  chan uplink
	outbound chan routing.Downlink

	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(w *Worker, nc net.Conn) *conn {
	remote := nc.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remote); err == nil {
		remote = host
	}
	c := &conn{
		w:        w,
		nc:       nc,
		r:        bufio.NewReader(nc),
		remote:   remote,
		uplinks:  make(chan uplink, w.opts.ForwardQueueSize),
		outbound: make(chan routing.Downlink, w.opts.OutboundQueueSize),
		closed:   make(chan struct{}),
	}
	if w.opts.PublishRate > 0 {
		burst := w.opts.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(w.opts.PublishRate), burst)
	}
	return c
}

// serve 连接主循环
func (c *conn) serve() {
	defer c.close()

	pk, err := c.readConnect()
	if err != nil {
		logger.Debug("读取 CONNECT 失败", "worker", c.w.id, "ip", c.remote, "err", err)
		return
	}
	if !c.authenticate(pk) {
		return
	}
	defer c.w.release(c)

	c.w.conns.Add(2)
	go c.forwardLoop()
	go c.writeLoop()

	err = c.readLoop()
	close(c.uplinks)

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		logger.Debug("连接读取结束", "worker", c.w.id, "deviceId", c.deviceID, "err", err)
	}
}

// readConnect 读取首个报文，必须是 CONNECT
func (c *conn) readConnect() (*packets.Packet, error) {
	if t := c.w.opts.ConnectTimeout; t > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(t))
	}
	pk, err := readPacket(c.r, 0, c.w.opts.MaxPacketSize)
	if err != nil {
		return nil, err
	}
	if pk.FixedHeader.Type != packets.Connect {
		return nil, ErrNotConnect
	}
	c.version = pk.ProtocolVersion
	c.keepalive = time.Duration(pk.Connect.Keepalive) * time.Second
	return pk, nil
}

// authenticate 校验凭证，通过后登记会话并回复 CONNACK
//
// clientId 必须非空且与用户名一致，用户名和密码都必须携带。
func (c *conn) authenticate(pk *packets.Packet) bool {
	id := pk.Connect.ClientIdentifier
	username := string(pk.Connect.Username)

	if id == "" || !pk.Connect.UsernameFlag || !pk.Connect.PasswordFlag || username != id {
		logger.Info("设备凭证不完整或 clientId 与用户名不一致", "worker", c.w.id, "clientId", id, "ip", c.remote)
		c.refuse()
		return false
	}

	res := c.w.up.Authenticate(c.w.ctx, id, string(pk.Connect.Password))
	if !res.Accepted() {
		logger.Info("设备鉴权被拒绝", "worker", c.w.id, "deviceId", id, "ip", c.remote)
		c.refuse()
		return false
	}

	c.deviceID = id
	err := c.w.accept(c, func() error {
		return c.writeLocked(&packets.Packet{
			FixedHeader: packets.FixedHeader{Type: packets.Connack},
			ReasonCode:  packets.CodeSuccess.Code,
		})
	})
	if err != nil {
		logger.Debug("写 CONNACK 失败", "deviceId", id, "err", err)
		c.close()
	}
	return true
}

// refuse 回复鉴权失败并关闭
func (c *conn) refuse() {
	_ = c.write(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Connack},
		ReasonCode:  badCredentials(c.version),
	})
}

// readLoop 处理已连接状态下的报文
func (c *conn) readLoop() error {
	for {
		if c.keepalive > 0 {
			_ = c.nc.SetReadDeadline(time.Now().Add(c.keepalive * 3 / 2))
		} else {
			_ = c.nc.SetReadDeadline(time.Time{})
		}

		pk, err := readPacket(c.r, c.version, c.w.opts.MaxPacketSize)
		if err != nil {
			return err
		}
		c.w.sessions.Touch(c.deviceID)

		switch pk.FixedHeader.Type {
		case packets.Publish:
			c.handlePublish(pk)
		case packets.Subscribe:
			err = c.handleSubscribe(pk)
		case packets.Unsubscribe:
			codes := make([]byte, len(pk.Filters))
			err = c.write(&packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Unsuback},
				PacketID:    pk.PacketID,
				ReasonCodes: codes,
			})
		case packets.Pubrel:
			err = c.write(&packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Pubcomp},
				PacketID:    pk.PacketID,
			})
		case packets.Pubrec:
			err = c.write(&packets.Packet{
				FixedHeader: packets.FixedHeader{Type: packets.Pubrel, Qos: 1},
				PacketID:    pk.PacketID,
			})
		case packets.Puback, packets.Pubcomp:
			// 下行确认，无后续动作
		case packets.Pingreq:
			err = c.write(&packets.Packet{FixedHeader: packets.FixedHeader{Type: packets.Pingresp}})
		case packets.Disconnect:
			return nil
		default:
			return ErrUnexpectedPacket
		}
		if err != nil {
			return err
		}
	}
}

// handleSubscribe 只允许订阅本设备的指令主题，逐条给出结果
func (c *conn) handleSubscribe(pk *packets.Packet) error {
	codes := make([]byte, len(pk.Filters))
	for i, sub := range pk.Filters {
		if !topic.CanSubscribe(c.deviceID, sub.Filter) {
			logger.Debug("拒绝订阅", "deviceId", c.deviceID, "filter", sub.Filter)
			codes[i] = subackFailure
			continue
		}
		codes[i] = min(sub.Qos, 2)
	}
	return c.write(&packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Suback},
		PacketID:    pk.PacketID,
		ReasonCodes: codes,
	})
}

// handlePublish 分类上行消息并放入转发队列
//
// 未授权主题与超限消息直接确认后丢弃；转发队列满时阻塞读循环。
func (c *conn) handlePublish(pk *packets.Packet) {
	qos := pk.FixedHeader.Qos
	kind, ok := topic.Classify(c.deviceID, pk.TopicName)
	if !ok {
		logger.Debug("丢弃未授权主题的消息", "deviceId", c.deviceID, "topic", pk.TopicName)
		c.ackUplink(qos, pk.PacketID)
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.w.metrics.RateLimited.Inc()
		logger.Debug("上行超速，丢弃", "deviceId", c.deviceID, "topic", pk.TopicName)
		c.ackUplink(qos, pk.PacketID)
		return
	}

	switch kind {
	case topic.Telemetry:
		c.w.metrics.Telemetry.Inc()
	case topic.Ack:
		c.w.metrics.Ack.Inc()
	case topic.Event:
		c.w.metrics.Event.Inc()
	}

	c.uplinks <- uplink{kind: kind, qos: qos, packetID: pk.PacketID, payload: pk.Payload}
}

// forwardLoop 按到达顺序转发上行消息，转发结束后再确认
func (c *conn) forwardLoop() {
	defer c.w.conns.Done()
	for u := range c.uplinks {
		if err := c.w.up.Forward(c.w.ctx, u.kind, c.deviceID, u.payload); err != nil {
			logger.Warn("上行转发失败", "deviceId", c.deviceID, "kind", u.kind.String(), "err", err)
		}
		c.ackUplink(u.qos, u.packetID)
	}
}

// ackUplink QoS1 回 PUBACK，QoS2 回 PUBREC
func (c *conn) ackUplink(qos byte, packetID uint16) {
	var typ byte
	switch qos {
	case 1:
		typ = packets.Puback
	case 2:
		typ = packets.Pubrec
	default:
		return
	}
	if err := c.write(&packets.Packet{FixedHeader: packets.FixedHeader{Type: typ}, PacketID: packetID}); err != nil {
		logger.Debug("写上行确认失败", "deviceId", c.deviceID, "err", err)
	}
}

// enqueue 非阻塞地放入下行发送队列
func (c *conn) enqueue(cmd routing.Downlink) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.outbound <- cmd:
		return nil
	default:
		return ErrOutboundFull
	}
}

// writeLoop 按入队顺序发送下行指令，写失败时关闭连接
func (c *conn) writeLoop() {
	defer c.w.conns.Done()
	for {
		select {
		case <-c.closed:
			return
		case cmd := <-c.outbound:
			if err := c.publish(cmd); err != nil {
				logger.Warn("下行发布失败", "worker", c.w.id, "deviceId", c.deviceID, "err", err)
				c.close()
				return
			}
		}
	}
}

// publish 下行发布到设备
func (c *conn) publish(cmd routing.Downlink) error {
	qos := min(cmd.QoS, 2)
	pk := &packets.Packet{
		FixedHeader: packets.FixedHeader{Type: packets.Publish, Qos: qos},
		TopicName:   cmd.Topic,
		Payload:     cmd.Payload,
	}
	if qos > 0 {
		pk.PacketID = c.nextPacketID()
	}
	return c.write(pk)
}

func (c *conn) nextPacketID() uint16 {
	for {
		if id := uint16(c.packetID.Add(1)); id != 0 {
			return id
		}
	}
}

func (c *conn) write(pk *packets.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(pk)
}

// writeLocked 调用方须持有 writeMu
func (c *conn) writeLocked(pk *packets.Packet) error {
	pk.ProtocolVersion = c.version
	if t := c.w.opts.WriteTimeout; t > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(t))
	}
	return writePacket(c.nc, pk)
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.nc.Close()
	})
}
