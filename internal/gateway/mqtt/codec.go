package mqtt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/mochi-mqtt/server/v2/packets"
)

// CONNACK 返回码
const (
	// connackBadCredentialsV3 MQTT 3.1.1 用户名或密码错误
	connackBadCredentialsV3 byte = 0x04
	// connackBadCredentialsV5 MQTT 5 用户名或密码错误
	connackBadCredentialsV5 byte = 0x86
	// subackFailure 订阅失败
	subackFailure byte = 0x80
)

// badCredentials 按协议版本返回“用户名或密码错误”的 CONNACK 码
func badCredentials(version byte) byte {
	if version == 5 {
		return connackBadCredentialsV5
	}
	return connackBadCredentialsV3
}

// readPacket 读取一个完整的 MQTT 报文
//
// version 为 CONNECT 中协商的协议版本，决定 PUBLISH/SUBSCRIBE 等
// 报文是否携带属性字段；读取 CONNECT 本身时传 0。
func readPacket(r *bufio.Reader, version byte, maxSize int) (*packets.Packet, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	fh := new(packets.FixedHeader)
	if err := fh.Decode(b); err != nil {
		return nil, err
	}

	rem, _, err := packets.DecodeLength(r)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && rem > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, rem)
	}
	fh.Remaining = rem

	buf := make([]byte, rem)
	if rem > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}

	pk := &packets.Packet{FixedHeader: *fh, ProtocolVersion: version}
	switch pk.FixedHeader.Type {
	case packets.Connect:
		err = pk.ConnectDecode(buf)
	case packets.Publish:
		err = pk.PublishDecode(buf)
	case packets.Subscribe:
		err = pk.SubscribeDecode(buf)
	case packets.Unsubscribe:
		err = pk.UnsubscribeDecode(buf)
	case packets.Puback:
		err = pk.PubackDecode(buf)
	case packets.Pubrec:
		err = pk.PubrecDecode(buf)
	case packets.Pubrel:
		err = pk.PubrelDecode(buf)
	case packets.Pubcomp:
		err = pk.PubcompDecode(buf)
	case packets.Pingreq:
		err = pk.PingreqDecode(buf)
	case packets.Disconnect:
		err = pk.DisconnectDecode(buf)
	default:
		err = fmt.Errorf("%w: %d", ErrUnexpectedPacket, pk.FixedHeader.Type)
	}
	if err != nil {
		return nil, err
	}
	return pk, nil
}

// writePacket 编码并写出一个 MQTT 报文
func writePacket(w io.Writer, pk *packets.Packet) error {
	var buf bytes.Buffer
	var err error
	switch pk.FixedHeader.Type {
	case packets.Connack:
		err = pk.ConnackEncode(&buf)
	case packets.Suback:
		err = pk.SubackEncode(&buf)
	case packets.Unsuback:
		err = pk.UnsubackEncode(&buf)
	case packets.Pingresp:
		err = pk.PingrespEncode(&buf)
	case packets.Publish:
		err = pk.PublishEncode(&buf)
	case packets.Puback:
		err = pk.PubackEncode(&buf)
	case packets.Pubrec:
		err = pk.PubrecEncode(&buf)
	case packets.Pubrel:
		err = pk.PubrelEncode(&buf)
	case packets.Pubcomp:
		err = pk.PubcompEncode(&buf)
	default:
		return fmt.Errorf("%w: %d", ErrUnexpectedPacket, pk.FixedHeader.Type)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}
