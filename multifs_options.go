package strawdav

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MultiFsOption is an option to NewMultiFs.
type MultiFsOption interface {
	isMultiFsOpt()
}

type registererOpt struct {
	reg prometheus.Registerer
}

func (registererOpt) isMultiFsOpt() {}

// WithRegisterer registers the dispatcher's operation metrics with reg.
// Without it no metrics are recorded.
func WithRegisterer(reg prometheus.Registerer) registererOpt {
	return registererOpt{reg}
}
