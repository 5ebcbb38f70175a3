package leshan

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"leshan2mqtt/lwm2m"
)

// ObjectInstance identifies one instance of an object on a device, e.g.
// instance 0 of the light control object.
type ObjectInstance struct {
	ObjectID   lwm2m.ObjectID
	InstanceID lwm2m.InstanceID
}

func (i ObjectInstance) String() string {
	return fmt.Sprintf("/%d/%d", i.ObjectID, i.InstanceID)
}

// Path returns the full path to a resource of this instance.
func (i ObjectInstance) Path(resource lwm2m.ResourceID) lwm2m.Path {
	return lwm2m.Path{Object: i.ObjectID, Instance: i.InstanceID, Resource: resource}
}

// RegisteredClient is a device currently registered with the server.
type RegisteredClient struct {
	Endpoint         string `json:"endpoint"`
	RegistrationID   string `json:"registrationId"`
	RegistrationDate int64  `json:"registrationDate"`
	LastUpdate       int64  `json:"lastUpdate"`
	Address          string `json:"address"`
	Version          string `json:"lwM2mVersion"`
	Lifetime         int64  `json:"lifetime"`
	BindingMode      string `json:"bindingMode"`
	RootPath         string `json:"rootPath"`
	Secure           bool   `json:"secure"`

	ObjectInstances []ObjectInstance `json:"-"`
}

// RegisteredAt returns the registration time of the client.
func (c *RegisteredClient) RegisteredAt() time.Time {
	return time.UnixMilli(c.RegistrationDate)
}

// HasObject reports whether the client exposes at least one instance of the
// given object.
func (c *RegisteredClient) HasObject(id lwm2m.ObjectID) bool {
	for _, instance := range c.ObjectInstances {
		if instance.ObjectID == id {
			return true
		}
	}
	return false
}

// InstancesOf returns the client's instances of the given object.
func (c *RegisteredClient) InstancesOf(id lwm2m.ObjectID) []ObjectInstance {
	var instances []ObjectInstance
	for _, instance := range c.ObjectInstances {
		if instance.ObjectID == id {
			instances = append(instances, instance)
		}
	}
	return instances
}

// UnmarshalJSON flattens the availableInstances map into a sorted instance
// list. The server keys the map by object id in decimal.
func (c *RegisteredClient) UnmarshalJSON(data []byte) error {
	type plain RegisteredClient
	aux := struct {
		*plain
		AvailableInstances map[string][]uint16 `json:"availableInstances"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	c.ObjectInstances = nil
	for key, instances := range aux.AvailableInstances {
		objectID, err := strconv.ParseUint(key, 10, 16)
		if err != nil {
			return fmt.Errorf("malformed object id %q for client %v", key, c.Endpoint)
		}
		for _, instanceID := range instances {
			c.ObjectInstances = append(c.ObjectInstances, ObjectInstance{
				ObjectID:   lwm2m.ObjectID(objectID),
				InstanceID: lwm2m.InstanceID(instanceID),
			})
		}
	}
	sort.Slice(c.ObjectInstances, func(i, j int) bool {
		a, b := c.ObjectInstances[i], c.ObjectInstances[j]
		if a.ObjectID != b.ObjectID {
			return a.ObjectID < b.ObjectID
		}
		return a.InstanceID < b.InstanceID
	})
	return nil
}
