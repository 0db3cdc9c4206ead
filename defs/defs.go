package defs

type Tid_t int

// scheduling levels; 60 is the system level and the highest priority.
const (
	LEVEL_MIN     = 0
	LEVEL_MAX     = 60
	NLEVELS       = LEVEL_MAX + 1
	LEVEL_DEFAULT = 30
)

// all scheduler timing is in milliseconds
const (
	SLICE_MIN = 10
	SLICE_MAX = 300
	BOOST_MS  = 2000
	REAP_MS   = 10000
	TICK_MS   = 1
)

// timeout argument of the timed blocking operations. a timeout of 0 polls:
// the operation never sleeps.
const FOREVER = -1

type Tflags_t uint32

const (
	TF_USERMODE Tflags_t = 1 << iota
	TF_CPUBOUND
	TF_SYSTEM
	TF_IDLE
	TF_FINISHED
	TF_DETACHED
	// the thread owns a process; reaping it reclaims the process
	TF_PROCESS
)

func (f Tflags_t) String() string {
	names := []string{"user", "cpubound", "system", "idle", "finished",
		"detached", "process"}
	s := ""
	for i, n := range names {
		if f&(1<<uint(i)) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += n
	}
	if s == "" {
		return "-"
	}
	return s
}

type Keykind_t int

const (
	KEY_NONE Keykind_t = iota
	// an object id handed out by the wait registry
	KEY_OBJ
	// the address of a futex word
	KEY_ADDR
)

// Waitkey_t names a wait set. the zero value means "not waiting".
type Waitkey_t struct {
	Kind Keykind_t
	V    uintptr
}

func (k Waitkey_t) Isnone() bool {
	return k.Kind == KEY_NONE
}

// futex wake-op encoding: op<<28 | cmp<<24 | oparg<<12 | cmparg
const (
	FUTEX_OP_SET  = 0
	FUTEX_OP_ADD  = 1
	FUTEX_OP_OR   = 2
	FUTEX_OP_ANDN = 3
	FUTEX_OP_XOR  = 4

	FUTEX_OP_CMP_EQ = 0
	FUTEX_OP_CMP_NE = 1
	FUTEX_OP_CMP_LT = 2
	FUTEX_OP_CMP_LE = 3
	FUTEX_OP_CMP_GT = 4
	FUTEX_OP_CMP_GE = 5
)

func Futexop(op, oparg, cmp, cmparg int) int {
	return (op&0xf)<<28 | (cmp&0xf)<<24 | (oparg&0xfff)<<12 | cmparg&0xfff
}
