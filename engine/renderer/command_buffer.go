package renderer

import (
	"fmt"
)

type CommandBufferState int

const (
	CommandBufferStateReady CommandBufferState = iota
	CommandBufferStateRecording
	CommandBufferStateRecordingEnded
	CommandBufferStateSubmitted
)

// Command is an opaque recorded operation.
type Command interface {
	Execute(target CommandTarget) error
}

/** @brief Copies the pixels of one mip level into a texture. */
type CopyTextureCommand struct {
	Texture  TextureHandle
	MipLevel uint32
	Pixels   []byte
}

func (c CopyTextureCommand) Execute(target CommandTarget) error {
	return target.UpdateTexture(c.Texture, c.MipLevel, c.Pixels)
}

/** @brief Copies data into a buffer at the given offset. */
type CopyBufferCommand struct {
	Buffer BufferHandle
	Offset uint64
	Data   []byte
}

func (c CopyBufferCommand) Execute(target CommandTarget) error {
	return target.UpdateBuffer(c.Buffer, c.Offset, c.Data)
}

// CommandBuffer records commands and replays them against a CommandTarget.
// Not safe for concurrent use.
type CommandBuffer struct {
	Name     string
	State    CommandBufferState
	commands []Command
}

func NewCommandBuffer(name string) *CommandBuffer {
	return &CommandBuffer{
		Name:  name,
		State: CommandBufferStateReady,
	}
}

func (cb *CommandBuffer) Begin() error {
	if cb.State != CommandBufferStateReady {
		return fmt.Errorf("command buffer '%s' begin: not ready (state %d)", cb.Name, cb.State)
	}
	cb.State = CommandBufferStateRecording
	return nil
}

func (cb *CommandBuffer) Record(cmd Command) error {
	if cb.State != CommandBufferStateRecording {
		return fmt.Errorf("command buffer '%s' record: not recording (state %d)", cb.Name, cb.State)
	}
	cb.commands = append(cb.commands, cmd)
	return nil
}

func (cb *CommandBuffer) End() error {
	if cb.State != CommandBufferStateRecording {
		return fmt.Errorf("command buffer '%s' end: not recording (state %d)", cb.Name, cb.State)
	}
	cb.State = CommandBufferStateRecordingEnded
	return nil
}

func (cb *CommandBuffer) Len() int {
	return len(cb.commands)
}

// Replay executes every command in recording order and stops at the first error.
func (cb *CommandBuffer) Replay(target CommandTarget) error {
	if cb.State != CommandBufferStateRecordingEnded {
		return fmt.Errorf("command buffer '%s' replay: recording not ended (state %d)", cb.Name, cb.State)
	}
	for i, cmd := range cb.commands {
		if err := cmd.Execute(target); err != nil {
			return fmt.Errorf("command buffer '%s' command %d: %w", cb.Name, i, err)
		}
	}
	cb.State = CommandBufferStateSubmitted
	return nil
}

// Reset drops the recorded commands so the buffer can be recorded again.
func (cb *CommandBuffer) Reset() {
	cb.commands = cb.commands[:0]
	cb.State = CommandBufferStateReady
}
