package ingest

// ResourceKey is a typed name used to index the session scratch map. Two
// keys with the same Name are equal; T is a compile-time discipline
// enforced by RegisterTyped/GetTyped, not a runtime field. This is a
// type-erased value cell rather than a closed tagged-sum, since the set
// of resource kinds (websocket, peer connection, WAV handle, recognizer
// handle) is open-ended across consumer variants.
type ResourceKey[T any] struct {
	Name string
}

// resourceKey is the untyped form used internally as a map key, since Go
// map keys cannot carry a type parameter directly.
type resourceKey struct {
	name string
}

func (k ResourceKey[T]) untyped() resourceKey { return resourceKey{name: k.Name} }

// Well-known resource keys.
var (
	KeyOutboundSocket = ResourceKey[*OutboundSocket]{Name: "outbound_socket"}
	KeyUserIP         = ResourceKey[string]{Name: "user_ip"}
	KeyWAVWriter      = ResourceKey[*wavWriterState]{Name: "wav_writer"}
	KeyLocalRecognizer = ResourceKey[*localRecognizerState]{Name: "local_recognizer"}
	KeyCloudRecognizer = ResourceKey[*cloudRecognizerState]{Name: "cloud_recognizer"}
	KeyProjectVocabulary = ResourceKey[[]string]{Name: "project_vocabulary"}
	KeyPeerConn          = ResourceKey[PeerConnection]{Name: "peer_conn"}
)

// RegisterTyped registers value under key for session, panicking (a
// programmer-error invariant violation) if the session
// is inactive or the key is already bound.
func RegisterTyped[T any](ctx *SessionContext, key ResourceKey[T], value T) {
	ctx.manager.register(ctx.SessionId, key.untyped(), value)
}

// GetTyped returns the value bound to key for session, or the zero value
// and false if absent. Panics if the session is not active.
func GetTyped[T any](ctx *SessionContext, key ResourceKey[T]) (T, bool) {
	v, ok := ctx.manager.get(ctx.SessionId, key.untyped())
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// GetOrWaitTyped blocks until key is bound for session or the session is
// torn down, in which case it returns an error.
func GetOrWaitTyped[T any](ctx *SessionContext, key ResourceKey[T]) (T, error) {
	v, err := ctx.manager.getOrWait(ctx.ctx, ctx.SessionId, key.untyped())
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
