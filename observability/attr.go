package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	BackendKey   attribute.Key = "backend"
	OperationKey attribute.Key = "operation"
)

func Height(height uint64) attribute.KeyValue {
	return attribute.Int64("height", int64(height)) /* #nosec G115 block height does not exceed int64 max value */
}

func Backend(name string) attribute.KeyValue {
	return BackendKey.String(name)
}

// Operation is the name of the storage method invoked through the reconnection wrapper.
func Operation(name string, extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(append(extra, OperationKey.String(name))...))
}

/*
ErrStatus returns attribute named "status" with value "ok" if the param
err is nil and "err" when it is not.
*/
func ErrStatus(err error) attribute.KeyValue {
	status := "ok"
	if err != nil {
		status = "err"
	}
	return attribute.String("status", status)
}
