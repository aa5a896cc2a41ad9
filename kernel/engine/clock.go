package engine

import "time"

// Clock abstracts time for the controller. Production code uses RealClock; tests drive a fake.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func RealClock() Clock {
	return realClock{}
}
