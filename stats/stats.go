package stats

import "reflect"
import "sync/atomic"
import "strconv"

type Counter_t int64

func (c *Counter_t) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

func (c *Counter_t) Add(n int64) {
	atomic.AddInt64((*int64)(c), n)
}

func (c *Counter_t) Load() int64 {
	return atomic.LoadInt64((*int64)(c))
}

// st must be a pointer to a struct of counters; each is read atomically
func Stats2String(st interface{}) string {
	v := reflect.ValueOf(st).Elem()
	ct := reflect.TypeOf(Counter_t(0))
	s := ""
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.Type != ct || !f.IsExported() {
			continue
		}
		c := v.Field(i).Addr().Interface().(*Counter_t)
		s += "\n\t#" + f.Name + ": " + strconv.FormatInt(c.Load(), 10)
	}
	return s + "\n"
}
