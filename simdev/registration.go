package simdev

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
)

// objectLinks advertises the served objects in CoRE link format.
const objectLinks = "</3/0>,</3311/0>,</3342/0>"

func (d *Device) register(ctx context.Context) error {
	queries := []message.Option{
		{ID: message.URIQuery, Value: []byte("ep=" + d.cfg.Endpoint)},
		{ID: message.URIQuery, Value: []byte(fmt.Sprintf("lt=%v", int(d.cfg.Lifetime.Seconds())))},
		{ID: message.URIQuery, Value: []byte("lwm2m=1.1")},
		{ID: message.URIQuery, Value: []byte("b=U")},
	}

	resp, err := d.conn.Post(ctx, "/rd", message.AppLinkFormat, strings.NewReader(objectLinks), queries...)
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}
	if resp.Code() != codes.Created {
		return fmt.Errorf("registration rejected: %v", resp.Code())
	}

	location := locationPath(resp)
	if location == "" {
		return fmt.Errorf("registration response carries no location")
	}
	d.location = location
	return nil
}

func (d *Device) update(ctx context.Context) error {
	resp, err := d.conn.Post(ctx, d.location, message.AppLinkFormat, strings.NewReader(""))
	if err != nil {
		return err
	}
	if resp.Code() != codes.Changed {
		return fmt.Errorf("update rejected: %v", resp.Code())
	}
	return nil
}

// deregister removes the registration. Run's context is already cancelled
// when this is called, so it brings its own deadline.
func (d *Device) deregister() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := d.conn.Delete(ctx, d.location)
	if err != nil {
		d.logger.Warnf("Deregistration failed: %v", err)
		return
	}
	if resp.Code() != codes.Deleted {
		d.logger.Warnf("Deregistration rejected: %v", resp.Code())
		return
	}
	d.logger.Infof("Deregistered %v", d.cfg.Endpoint)
}

func locationPath(resp *pool.Message) string {
	var segments []string
	for _, opt := range resp.Options() {
		if opt.ID == message.LocationPath {
			segments = append(segments, string(opt.Value))
		}
	}
	if len(segments) == 0 {
		return ""
	}
	return "/" + strings.Join(segments, "/")
}
