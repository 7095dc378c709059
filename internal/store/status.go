package store

// Status 集合同步状态：uninitialized → loading → ready，loading/ready 可进入终态 error
type Status int

const (
	StatusUninitialized Status = iota
	StatusLoading
	StatusReady
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Available loading 与 ready 状态允许乐观写
func (s Status) Available() bool {
	return s == StatusLoading || s == StatusReady
}
