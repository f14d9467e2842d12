package realtime

// Recorder は接続とイベント配信の計測値を記録する。
type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	EventRouted(family string)
	EventsDelivered(strategy string, n int)
	DeliveryFailed(reason string)
	AuthFailed(reason string)
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()           {}
func (nopRecorder) ConnectionClosed()           {}
func (nopRecorder) EventRouted(string)          {}
func (nopRecorder) EventsDelivered(string, int) {}
func (nopRecorder) DeliveryFailed(string)       {}
func (nopRecorder) AuthFailed(string)           {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
