package classify

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		resp    Response
		wantErr bool
	}{
		{
			name: "valid single topic",
			resp: Response{Topics: []Topic{
				{TargetBookName: "Project X", Type: "note", Summary: "s"},
			}},
		},
		{
			name:    "no topics",
			resp:    Response{IsMultiTopic: true},
			wantErr: true,
		},
		{
			name: "missing target book on content topic",
			resp: Response{Topics: []Topic{
				{Summary: "something", Tasks: []ProposedTask{{Description: "d"}}},
			}},
			wantErr: true,
		},
		{
			name: "action-only topic needs no book",
			resp: Response{Topics: []Topic{
				{TaskActions: []TaskAction{{Action: ActionComplete, TaskDescription: "BI model Andina"}}},
			}},
		},
		{
			name: "unknown action verb",
			resp: Response{Topics: []Topic{
				{TargetBookName: "B", TaskActions: []TaskAction{{Action: "delete", TaskDescription: "x"}}},
			}},
			wantErr: true,
		},
		{
			name: "action missing description",
			resp: Response{Topics: []Topic{
				{TargetBookName: "B", TaskActions: []TaskAction{{Action: ActionComplete}}},
			}},
			wantErr: true,
		},
		{
			name: "task missing description",
			resp: Response{Topics: []Topic{
				{TargetBookName: "B", Tasks: []ProposedTask{{Assignee: "Ana"}}},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("err = %v, want wrapping ErrInvalidResponse", err)
			}
		})
	}
}
