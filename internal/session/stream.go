package session

import (
	"sync"
	"time"

	"github.com/lexiqai/voice-transcriber/internal/audio"
)

// stream is the per-source worker state. It is the Sink its Source feeds.
type stream struct {
	session *Session
	spec    StreamSpec
	vad     *audio.VAD // nil for the mixed role
	clip    *audio.ClipBuffer

	mu     sync.Mutex
	status StreamStatus
	lastAt time.Time
}

func (s *Session) newStream(spec StreamSpec) *stream {
	st := &stream{
		session: s,
		spec:    spec,
		status:  StreamAcquiring,
	}
	if spec.Role != RoleMixed {
		vadConfig := s.config.VAD
		st.vad = audio.NewVAD(spec.ID, &vadConfig)
		st.clip = audio.NewClipBuffer(s.config.ClipRetention)
		s.attributor.Register(spec.ID, spec.Role.Speaker())
	}
	return st
}

// OnEnergy feeds one reading to the attributor and the detector
func (st *stream) OnEnergy(r audio.EnergyReading) {
	if st.vad == nil {
		return
	}
	s := st.session
	s.attributor.Add(st.spec.ID, r)

	st.mu.Lock()
	st.lastAt = r.Timestamp
	ev := st.vad.Process(r)
	st.mu.Unlock()

	st.handle(ev)
}

// OnAudio keeps raw audio for segment payloads and the recorder
func (st *stream) OnAudio(at time.Time, data []byte) {
	s := st.session
	if st.clip != nil {
		st.clip.Write(at, data)
	}
	if s.recorder != nil {
		s.recorder.Write(st.spec.ID, data)
	}
	s.metrics.RecordAudioBytes(string(st.spec.Role), int64(len(data)))
}

func (st *stream) handle(ev audio.VADEvent) {
	s := st.session

	switch ev.Kind {
	case audio.EventSpeechStart:
		s.metrics.RecordStreamEvent("speech_start")
		s.logger.Debug().Str("stream", st.spec.ID).Time("at", ev.At).Msg("Speech started")
	case audio.EventDiscarded:
		s.metrics.RecordSegment(false, 0)
		s.logger.Debug().
			Str("stream", st.spec.ID).
			Dur("duration", ev.Segment.Duration()).
			Msg("Utterance too short, discarded")
	case audio.EventSpeechEnd:
		s.emit(st, ev.Segment)
	}
}

// flush closes an open utterance when the stream ends normally
func (st *stream) flush() {
	if st.vad == nil {
		return
	}
	st.mu.Lock()
	ev := st.vad.Flush(st.lastAt)
	st.mu.Unlock()

	st.handle(ev)
}

// drop abandons any open utterance without emitting it
func (st *stream) drop() {
	if st.vad == nil {
		return
	}
	st.mu.Lock()
	abandoned := st.vad.Drop()
	st.mu.Unlock()
	st.clip.Clear()

	if abandoned {
		st.session.logger.Warn().Str("stream", st.spec.ID).Msg("Open utterance abandoned on stream drop")
	}
}

func (st *stream) setStatus(status StreamStatus) {
	st.mu.Lock()
	st.status = status
	st.mu.Unlock()
}

func (st *stream) getStatus() StreamStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status
}
