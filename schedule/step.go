package schedule

import "time"

// step is a validated block. Only the compiler creates steps, so emit never
// has to re-check block payloads.
type step interface {
	blockIndex() int
}

type emailListStep struct {
	index  int
	emails []string
}

type sendEmailStep struct {
	index   int
	subject string
	body    string
}

type waitStep struct {
	index int
	delay time.Duration
}

func (s emailListStep) blockIndex() int { return s.index }
func (s sendEmailStep) blockIndex() int { return s.index }
func (s waitStep) blockIndex() int      { return s.index }
