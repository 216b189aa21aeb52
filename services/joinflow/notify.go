package joinflow

// NoticeLevel classifies a user-facing notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeSuccess
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeSuccess:
		return "success"
	case NoticeError:
		return "error"
	}
	return "info"
}

// Notifier receives the engine's user-facing output: the derived state for
// the view layer and one-off notices for toast-style surfaces. Polling
// noise never reaches a Notifier; only completion outcomes do. Methods are
// called from engine goroutines and must return quickly.
type Notifier interface {
	State(state State, snap *Snapshot)
	Notice(level NoticeLevel, message string)
}

type nopNotifier struct{}

func (nopNotifier) State(State, *Snapshot)     {}
func (nopNotifier) Notice(NoticeLevel, string) {}
