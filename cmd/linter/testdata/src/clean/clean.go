package clean

import "errors"

type logger struct{}

func (logger) Fatal(v ...any) {}

type exiter struct{}

func (exiter) Exit(code int) {}

var errNegative = errors.New("negative depth")

func Observe(depth int) error {
	log := logger{}
	os := exiter{}
	if depth < 0 {
		log.Fatal("negative depth")
		os.Exit(1)
		return errNegative
	}
	return nil
}

func Recover() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errNegative
		}
	}()
	return nil
}
