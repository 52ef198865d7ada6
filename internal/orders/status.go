package orders

import "fmt"

// Status is the order lifecycle state. The zero value is not a valid status.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusCompleted
	StatusCancelled
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusPending:
		return false
	case StatusCompleted, StatusCancelled:
		return true
	}
	panic(fmt.Sprintf("orders: unknown status %d", uint8(s)))
}

func ParseStatus(v string) (Status, error) {
	switch v {
	case "pending":
		return StatusPending, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled":
		return StatusCancelled, nil
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return []byte(s.String()), nil
	}
	return nil, fmt.Errorf("marshal %s", s)
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
