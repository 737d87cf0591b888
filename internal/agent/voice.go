package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cozeplug/internal/audio"
	"cozeplug/internal/chat"
	"cozeplug/internal/tools"
)

// VoiceInput is a spoken question with an optional image.
type VoiceInput struct {
	AudioPath string
	ImagePath string
	// Stream sends the samples as a live utterance instead of uploading the file.
	Stream bool
}

// VoiceRequest builds the turn for a voice question. Uploaded files are
// referenced from an object_string message; a streamed utterance carries the
// image as the "image" chat parameter.
func VoiceRequest(ctx context.Context, uploader tools.Uploader, in VoiceInput) (chat.TurnRequest, error) {
	if in.AudioPath == "" {
		return chat.TurnRequest{}, fmt.Errorf("audio path is required")
	}
	var imageID string
	if in.ImagePath != "" {
		id, err := uploader.Upload(ctx, in.ImagePath)
		if err != nil {
			return chat.TurnRequest{}, fmt.Errorf("upload image: %w", err)
		}
		imageID = id
	}

	if in.Stream {
		data, err := os.ReadFile(in.AudioPath)
		if err != nil {
			return chat.TurnRequest{}, err
		}
		req := chat.TurnRequest{AudioInput: audio.PCM(data)}
		if imageID != "" {
			ref, _ := json.Marshal(map[string]string{"file_id": imageID})
			req.Parameters = map[string]any{"image": string(ref)}
		}
		return req, nil
	}

	audioID, err := uploader.Upload(ctx, in.AudioPath)
	if err != nil {
		return chat.TurnRequest{}, fmt.Errorf("upload audio: %w", err)
	}
	items := []chat.ObjectItem{}
	if imageID != "" {
		items = append(items, chat.ImageFile(imageID))
	}
	items = append(items, chat.AudioFile(audioID))
	msg, err := chat.UserObjects(items...)
	if err != nil {
		return chat.TurnRequest{}, err
	}
	return chat.TurnRequest{Messages: []chat.Message{msg}}, nil
}
