package logger

import (
	"go.uber.org/zap"
)

// New создаёт SugaredLogger: development-конфигурация в режиме дебага, production иначе.
func New(debug bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if debug {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
