package simdev

import (
	"bytes"
	"fmt"
	"strings"

	senml "github.com/farshidtz/senml/v2"
	"github.com/farshidtz/senml/v2/codec"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"

	"leshan2mqtt/lwm2m"
)

func (d *Device) router() *mux.Router {
	router := mux.NewRouter()
	router.DefaultHandle(mux.HandlerFunc(d.handle))
	return router
}

// handle serves reads, writes and observations on the registered object
// paths. Requests arrive on the same connection the registration went out
// on.
func (d *Device) handle(w mux.ResponseWriter, r *mux.Message) {
	path, err := r.Options().Path()
	if err != nil {
		d.respondCode(w, codes.BadRequest)
		return
	}
	path = "/" + strings.Trim(path, "/")

	switch r.Code() {
	case codes.GET:
		d.handleGet(w, r, path)
	case codes.PUT, codes.POST:
		d.handleWrite(w, r, path)
	default:
		d.respondCode(w, codes.MethodNotAllowed)
	}
}

func (d *Device) handleGet(w mux.ResponseWriter, r *mux.Message, path string) {
	instancePath, resource, isResource := splitResourcePath(path)

	var pack senml.Pack
	var ok bool
	if isResource {
		pack, ok = d.resourcePack(instancePath, resource)
	} else {
		pack, ok = d.instancePack(path)
	}
	if !ok {
		d.respondCode(w, codes.NotFound)
		return
	}

	if obs, err := r.Options().Observe(); err == nil {
		switch obs {
		case 0:
			d.observations.add(path, w.Conn(), r.Token())
			d.logger.Infof("Observation started on %v", path)
			if err := d.notify(path, pack); err != nil {
				d.logger.Warnf("Failed to answer observe on %v: %v", path, err)
			}
			return
		case 1:
			d.observations.remove(path)
			d.logger.Infof("Observation cancelled on %v", path)
		}
	}

	d.respond(w, pack)
}

// handleWrite applies a SenML write to the light. The other objects are
// read-only.
func (d *Device) handleWrite(w mux.ResponseWriter, r *mux.Message, path string) {
	if !strings.HasPrefix(path, lightInstancePath) {
		d.respondCode(w, codes.MethodNotAllowed)
		return
	}

	body, err := r.ReadBody()
	if err != nil {
		d.respondCode(w, codes.BadRequest)
		return
	}
	pack, err := codec.DecodeJSON(body)
	if err != nil {
		d.respondCode(w, codes.BadRequest)
		return
	}
	writes, err := decodeWrites(pack)
	if err != nil {
		d.respondCode(w, codes.BadRequest)
		return
	}

	d.applyLightWrite(writes)
	d.respondCode(w, codes.Changed)
}

func (d *Device) respond(w mux.ResponseWriter, pack senml.Pack) {
	payload, err := codec.EncodeJSON(pack)
	if err != nil {
		d.respondCode(w, codes.InternalServerError)
		return
	}
	if err := w.SetResponse(codes.Content, message.AppSenmlJSON, bytes.NewReader(payload)); err != nil {
		d.logger.Warnf("Failed to send response: %v", err)
	}
}

func (d *Device) respondCode(w mux.ResponseWriter, code codes.Code) {
	if err := w.SetResponse(code, message.TextPlain, bytes.NewReader(nil)); err != nil {
		d.logger.Warnf("Failed to send response: %v", err)
	}
}

// notify sends one notification for a path if it is observed.
func (d *Device) notify(path string, pack senml.Pack) error {
	obs, seq, ok := d.observations.bump(path)
	if !ok {
		return nil
	}

	payload, err := codec.EncodeJSON(pack)
	if err != nil {
		return err
	}

	m := obs.conn.AcquireMessage(obs.conn.Context())
	defer obs.conn.ReleaseMessage(m)
	m.SetCode(codes.Content)
	m.SetToken(obs.token)
	m.SetContentFormat(message.AppSenmlJSON)
	m.SetObserve(seq)
	m.SetBody(bytes.NewReader(payload))
	return obs.conn.WriteMessage(m)
}

// notifyAll notifies observers of the changed resources and of the whole
// instance.
func (d *Device) notifyAll(instancePath string, resources ...lwm2m.ResourceID) {
	for _, resource := range resources {
		path := instancePath + "/" + resourceName(resource)
		if pack, ok := d.resourcePack(instancePath, resource); ok {
			if err := d.notify(path, pack); err != nil {
				d.logger.Warnf("Notify %v failed: %v", path, err)
			}
		}
	}
	if pack, ok := d.instancePack(instancePath); ok {
		if err := d.notify(instancePath, pack); err != nil {
			d.logger.Warnf("Notify %v failed: %v", instancePath, err)
		}
	}
}

// splitResourcePath splits "/3311/0/5850" into instance path and resource
// id. Instance-level paths report no resource.
func splitResourcePath(path string) (string, lwm2m.ResourceID, bool) {
	if p, err := lwm2m.ParsePath(path); err == nil {
		return fmt.Sprintf("/%d/%d", p.Object, p.Instance), p.Resource, true
	}
	return path, 0, false
}
