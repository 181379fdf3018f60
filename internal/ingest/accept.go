package ingest

import (
	"fmt"
	"time"
)

var sharedVocabularyCorrector = NewVocabularyCorrector()

// acceptTranscript is the shared text-acceptance path both Streaming
// Transcriber variants call on each finalized segment: send a
// transcription message over the outbound socket, persist a transcript
// row, and push into the session's TextCoalescer.
//
// storage is consulted synchronously; a storage failure is logged by
// the caller's consumer-error handling — consumer errors are isolated
// per chunk, the recording must not stop because of a transient
// persistence hiccup.
//
// If a project vocabulary has been registered for the session, text is
// rewritten through it before persistence and delivery.
func acceptTranscript(sc *SessionContext, storage Storage, text string) error {
	if text == "" {
		return nil
	}
	if storage == nil && sc.manager != nil {
		storage = sc.manager.storage
	}

	if vocab, ok := GetTyped(sc, KeyProjectVocabulary); ok {
		text = sharedVocabularyCorrector.Correct(text, vocab)
	}

	if sock, ok := GetTyped(sc, KeyOutboundSocket); ok {
		_ = sock.Send(OutboundMessage{Type: MsgTranscription, Timestamp: time.Now(), Transcription: &TranscriptionPayload{Text: text}})
	}

	tid, err := storage.AppendTranscript(sc.Context(), sc.UserOf(), sc.SessionId, sc.ProjectOf(), text)
	if err != nil {
		return fmt.Errorf("accept transcript: persist: %w", err)
	}

	sc.coalescer.Push(text, tid)
	return nil
}
