package remote

import (
	"bytes"
	"context"
	"net"
	"net/url"
	"strings"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

const DefaultWakeBroadcast = "255.255.255.255:9"

// wolTransport sends a Wake-on-LAN magic packet.
// URL form: wol://<broadcast host[:port]>/<mac>, e.g. wol://192.168.8.255:9/aa:bb:cc:dd:ee:ff
type wolTransport struct{}

func (t *wolTransport) Send(ctx context.Context, ep *model.Endpoint) error {
	u, err := url.Parse(ep.Url)
	if err != nil {
		return errors.Wrapf(err, "invalid wol url '%s'", ep.Url)
	}
	broadcast := u.Host
	if broadcast != "" && u.Port() == "" {
		broadcast = net.JoinHostPort(u.Hostname(), "9")
	}
	return SendMagicPacket(ctx, strings.TrimPrefix(u.Path, "/"), broadcast)
}

// MagicPacket builds the Wake-on-LAN payload for mac: six 0xFF bytes then the MAC sixteen times.
func MagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid mac '%s'", mac)
	}
	if len(hw) != 6 {
		return nil, errors.Errorf("mac '%s' is not a 48-bit address", mac)
	}
	var packet bytes.Buffer
	packet.Write(bytes.Repeat([]byte{0xff}, 6))
	for i := 0; i < 16; i++ {
		packet.Write(hw)
	}
	return packet.Bytes(), nil
}

// SendMagicPacket sends a magic packet for mac to the broadcast address (host:port).
func SendMagicPacket(ctx context.Context, mac string, broadcast string) error {
	packet, err := MagicPacket(mac)
	if err != nil {
		return err
	}
	if broadcast == "" {
		broadcast = DefaultWakeBroadcast
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "udp", broadcast)
	if err != nil {
		return errors.Wrapf(err, "dial %s", broadcast)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := conn.Write(packet); err != nil {
		return errors.Wrapf(err, "send magic packet to %s", broadcast)
	}
	return nil
}

func init() {
	RegisterTransport("wol", func() Transport { return &wolTransport{} })
}
