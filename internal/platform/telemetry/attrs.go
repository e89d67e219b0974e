package telemetry

import (
	"strconv"

	"go.opentelemetry.io/otel/attribute"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String("method", method)
}

func routeAttr(route string) attribute.KeyValue {
	return attribute.String("route", route)
}

func statusAttr(status int) attribute.KeyValue {
	return attribute.String("status", strconv.Itoa(status))
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String("result", result)
}

func layerAttr(layer string) attribute.KeyValue {
	return attribute.String("layer", layer)
}

func modeAttr(mode string) attribute.KeyValue {
	return attribute.String("mode", mode)
}

func operationAttr(op string) attribute.KeyValue {
	return attribute.String("operation", op)
}
