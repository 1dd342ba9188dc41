package worker

import (
	"testing"

	"github.com/google/uuid"
)

func TestParseIncomingMail(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid entry",
			data: `{"user_id": "` + userID.String() + `", "thread_id": "t1", "message_id": "m1"}`,
		},
		{
			name:    "missing user",
			data:    `{"thread_id": "t1", "message_id": "m1"}`,
			wantErr: true,
		},
		{
			name:    "missing message id",
			data:    `{"user_id": "` + userID.String() + `", "thread_id": "t1"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			data:    `user_id=abc`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mail, err := ParseIncomingMail([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mail.UserID != userID || mail.MessageID != "m1" {
				t.Errorf("parsed = %+v", mail)
			}
		})
	}
}
