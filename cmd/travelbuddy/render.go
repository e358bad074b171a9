package main

import (
	"fmt"
	"io"

	"github.com/satriahrh/travelbuddy/domain"
	"github.com/satriahrh/travelbuddy/usecase"
)

// printReply writes a reply and its recommendations in a readable form
func printReply(w io.Writer, reply domain.ChatResponse) {
	fmt.Fprintf(w, "TravelBuddy: %s\n", reply.Message)

	if reply.Status != nil && !reply.Status.Success && reply.Status.Error != "" {
		fmt.Fprintf(w, "  (error: %s)\n", reply.Status.Error)
	}
	if !reply.HasRecommendations() {
		return
	}

	rec := reply.Recommendations
	if len(rec.Hotels) > 0 {
		fmt.Fprintln(w, "  Hotels:")
		for _, h := range rec.Hotels {
			fmt.Fprintf(w, "    - %s (%s)", h.Name, h.Location)
			if h.Price != "" {
				fmt.Fprintf(w, " ₹%s", h.Price)
			}
			if h.Rating > 0 {
				fmt.Fprintf(w, " ★%.1f", h.Rating)
			}
			fmt.Fprintln(w)
		}
	}
	if len(rec.Attractions) > 0 {
		fmt.Fprintln(w, "  Attractions:")
		for _, a := range rec.Attractions {
			fmt.Fprintf(w, "    - %s (%s)", a.Name, a.Location)
			if a.Description != "" {
				fmt.Fprintf(w, ": %s", a.Description)
			}
			fmt.Fprintln(w)
		}
	}
	if len(rec.QuickActions) > 0 {
		fmt.Fprintln(w, "  Try:")
		for _, q := range rec.QuickActions {
			fmt.Fprintf(w, "    - %s\n", q.Label)
		}
	}
}

// printEvent writes one session event
func printEvent(w io.Writer, ev usecase.Event) {
	switch e := ev.(type) {
	case usecase.StateChanged:
		fmt.Fprintf(w, "[%s/%s]\n", e.Connection, e.Recording)
	case usecase.TranscriptUpdated:
		fmt.Fprintf(w, "You: %s\n", e.Fragment)
	case usecase.ReplyReceived:
		printReply(w, e.Reply)
	case usecase.NoticeReceived:
		if e.IsError {
			fmt.Fprintf(w, "! %s\n", e.Message)
		} else {
			fmt.Fprintf(w, "i %s\n", e.Message)
		}
	case usecase.ErrorOccurred:
		fmt.Fprintf(w, "! %v\n", e.Err)
	}
}
