package log

import "log/slog"

func PlanExecutionID[T ~string](id T) slog.Attr {
	return slog.String("plan_execution_id", string(id))
}

func NodeExecutionID[T ~string](id T) slog.Attr {
	return slog.String("node_execution_id", string(id))
}

func PlanNodeID[T ~string](id T) slog.Attr {
	return slog.String("plan_node_id", string(id))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func InterruptID[T ~string](id T) slog.Attr {
	return slog.String("interrupt_id", string(id))
}

func Unit[T ~string](unit T) slog.Attr {
	return slog.String("unit", string(unit))
}

func CorrelationID[T ~string](id T) slog.Attr {
	return slog.String("correlation_id", string(id))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
