package luaengine

import (
	"time"
)

var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// instructionCounter контекст, который виртуальная машина опрашивает перед
// каждой инструкцией. Каждый вызов Done считается за одну инструкцию; проверка
// лимита выполняется раз в interval инструкций. После превышения Done
// закрыт до сброса, поэтому pcall внутри скрипта не может продолжить работу.
type instructionCounter struct {
	limit    int64
	interval int64
	count    int64
	last     int64
	exceeded bool
}

func newInstructionCounter(limit, interval int) *instructionCounter {
	c := &instructionCounter{}
	c.configure(limit, interval)
	return c
}

func (c *instructionCounter) configure(limit, interval int) {
	if interval <= 0 {
		interval = 1
	}
	c.limit = int64(limit)
	c.interval = int64(interval)
}

func (c *instructionCounter) Deadline() (time.Time, bool) { return time.Time{}, false }

func (c *instructionCounter) Done() <-chan struct{} {
	if c.exceeded {
		return closedDone
	}
	c.count++
	if c.limit > 0 && c.count%c.interval == 0 && c.count >= c.limit {
		c.exceeded = true
		return closedDone
	}
	return nil
}

func (c *instructionCounter) Err() error {
	if c.exceeded {
		return ErrInstructionLimit
	}
	return nil
}

func (c *instructionCounter) Value(key interface{}) interface{} { return nil }

// reset вызывается, когда возвращается самый внешний вызов из хоста
func (c *instructionCounter) reset() {
	c.last = c.count
	c.count = 0
	c.exceeded = false
}
