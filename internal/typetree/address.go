package typetree

import (
	"fmt"
	"regexp"
	"strings"
)

// segmentRegex matches a single address segment, e.g. `Dataset` or `object_literal`.
var segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Address is the structured form of a dotted type address.
type Address struct {
	Path []string
}

// ParseAddress creates an Address from its canonical dotted representation.
func ParseAddress(raw string) (Address, error) {
	if raw == "" {
		return Address{}, fmt.Errorf("address cannot be empty")
	}

	var addr Address
	for _, segment := range strings.Split(raw, ".") {
		if segment == "" {
			return Address{}, fmt.Errorf("address %q contains empty segment", raw)
		}
		if !segmentRegex.MatchString(segment) || segment == "-" {
			return Address{}, fmt.Errorf("invalid address segment %q", segment)
		}
		addr.Path = append(addr.Path, segment)
	}
	return addr, nil
}

// String serializes the Address into its dotted form.
func (a Address) String() string {
	return strings.Join(a.Path, ".")
}

// Equal reports whether two addresses have identical paths.
func (a Address) Equal(other Address) bool {
	if len(a.Path) != len(other.Path) {
		return false
	}
	for i := range a.Path {
		if a.Path[i] != other.Path[i] {
			return false
		}
	}
	return true
}

// Last returns the final segment, or "" for an empty address.
func (a Address) Last() string {
	if len(a.Path) == 0 {
		return ""
	}
	return a.Path[len(a.Path)-1]
}

// Parent returns the address with the final segment removed.
func (a Address) Parent() Address {
	if len(a.Path) <= 1 {
		return Address{}
	}
	return Address{Path: append([]string(nil), a.Path[:len(a.Path)-1]...)}
}

// Child returns a new address extended by one segment.
func (a Address) Child(name string) Address {
	path := make([]string, 0, len(a.Path)+1)
	path = append(path, a.Path...)
	return Address{Path: append(path, name)}
}
