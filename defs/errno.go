package defs

const (
	EPERM     Err_t = 1
	ESRCH     Err_t = 3
	EINTR     Err_t = 4
	EAGAIN    Err_t = 11
	ENOMEM    Err_t = 12
	EBUSY     Err_t = 16
	EINVAL    Err_t = 22
	EDEADLK   Err_t = 35
	ETIMEDOUT Err_t = 110
)

type Err_t int

var errnames = map[Err_t]string{
	EPERM:     "EPERM",
	ESRCH:     "ESRCH",
	EINTR:     "EINTR",
	EAGAIN:    "EAGAIN",
	ENOMEM:    "ENOMEM",
	EBUSY:     "EBUSY",
	EINVAL:    "EINVAL",
	EDEADLK:   "EDEADLK",
	ETIMEDOUT: "ETIMEDOUT",
}

// kernel calls return negated errnos
func (e Err_t) String() string {
	if e == 0 {
		return "ok"
	}
	n := e
	if n < 0 {
		n = -n
	}
	if s, ok := errnames[n]; ok {
		return "-" + s
	}
	return "errno?"
}
