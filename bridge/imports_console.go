package bridge

import "context"

// Console levels passed by the guest.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (in *Instance) consoleImports(s *importSet) {
	// console_log(level, ptr, len)
	s.catching("console_log", i32s(3), nil, func(_ context.Context, st []uint64) error {
		msg, err := in.readString(st[1], st[2])
		if err != nil {
			return err
		}
		switch int32(u32(st[0])) {
		case LevelDebug:
			in.guestLog.Debug(msg)
		case LevelWarn:
			in.guestLog.Warn(msg)
		case LevelError:
			in.guestLog.Error(msg)
		default:
			in.guestLog.Info(msg)
		}
		return nil
	})
}
