package lwm2m

import (
	"fmt"
	"strconv"
	"strings"
)

// Path addresses a single resource as reported in Leshan notification events,
// e.g. "/3311/0/5850".
type Path struct {
	Object   ObjectID
	Instance InstanceID
	Resource ResourceID
}

// ParsePath parses an "/object/instance/resource" path.
func ParsePath(s string) (Path, error) {
	if !strings.HasPrefix(s, "/") {
		return Path{}, fmt.Errorf("invalid resource path %q", s)
	}
	parts := strings.Split(s[1:], "/")
	if len(parts) != 3 {
		return Path{}, fmt.Errorf("invalid resource path %q", s)
	}

	ids := make([]uint16, 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil {
			return Path{}, fmt.Errorf("invalid resource path %q: %w", s, err)
		}
		ids[i] = uint16(n)
	}

	return Path{
		Object:   ObjectID(ids[0]),
		Instance: InstanceID(ids[1]),
		Resource: ResourceID(ids[2]),
	}, nil
}

func (p Path) String() string {
	return fmt.Sprintf("/%d/%d/%d", p.Object, p.Instance, p.Resource)
}
