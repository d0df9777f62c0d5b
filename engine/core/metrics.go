package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

// FrameMetrics keeps a rolling average of frame (or dispatch) times and a frames
// per second counter. Safe for concurrent use.
type FrameMetrics struct {
	mutex              sync.Mutex
	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
	totalFrames        uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

func (m *FrameMetrics) Update(frameElapsed time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Calculate frame ms average
	frameMS := float64(frameElapsed) / float64(time.Millisecond)
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
	m.totalFrames++
}

func (m *FrameMetrics) FPS() float64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.fps
}

// FrameTime is the average over the last AVG_COUNT samples, in milliseconds.
func (m *FrameMetrics) FrameTime() float64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.msAvg
}

func (m *FrameMetrics) Frame() (float64, float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.fps, m.msAvg
}

func (m *FrameMetrics) TotalFrames() uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.totalFrames
}
