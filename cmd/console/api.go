package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/velvetroom/narrative-engine/pkg/story"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Reason  string   `json:"reason,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// StorySummary matches the API list view.
type StorySummary struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Fragments   int    `json:"fragments"`
	MinLevel    int    `json:"min_level,omitempty"`
	RequiresVIP bool   `json:"requires_vip,omitempty"`
}

// ProgressView matches the API progress slice.
type ProgressView struct {
	ActiveStory       string  `json:"active_story"`
	CurrentChapter    int     `json:"current_chapter"`
	CompletionPercent float64 `json:"completion_percent"`
	FragmentsVisited  int     `json:"fragments_visited"`
	TotalDecisions    int     `json:"total_decisions"`
}

// TransitionResponse matches the API success body.
type TransitionResponse struct {
	Fragment *story.Fragment `json:"fragment"`
	Progress *ProgressView   `json:"progress,omitempty"`
}

type transitionRequest struct {
	UserID   string `json:"user_id"`
	StoryID  string `json:"story_id,omitempty"`
	ChoiceID string `json:"choice_id,omitempty"`
}

func listStories(client *http.Client, baseURL string) ([]StorySummary, error) {
	resp, err := client.Get(baseURL + "/v1/stories")
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var stories []StorySummary
	if err := json.Unmarshal(body, &stories); err != nil {
		return nil, fmt.Errorf("failed to parse stories response: %w", err)
	}
	return stories, nil
}

func postTransition(client *http.Client, baseURL, action string, req transitionRequest) (*TransitionResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := client.Post(
		baseURL+"/v1/narrative/"+action,
		"application/json",
		bytes.NewBuffer(jsonData),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		if len(errorResp.Missing) > 0 {
			return nil, fmt.Errorf("%s (missing: %v)", errorResp.Error, errorResp.Missing)
		}
		return nil, fmt.Errorf("%s", errorResp.Error)
	}

	var transition TransitionResponse
	if err := json.Unmarshal(body, &transition); err != nil {
		return nil, fmt.Errorf("failed to parse transition response: %w", err)
	}
	return &transition, nil
}

func startStory(client *http.Client, baseURL, userID, storyID string) (*TransitionResponse, error) {
	return postTransition(client, baseURL, "start", transitionRequest{UserID: userID, StoryID: storyID})
}

func makeChoice(client *http.Client, baseURL, userID, choiceID string) (*TransitionResponse, error) {
	return postTransition(client, baseURL, "choice", transitionRequest{UserID: userID, ChoiceID: choiceID})
}

func navigateNext(client *http.Client, baseURL, userID string) (*TransitionResponse, error) {
	return postTransition(client, baseURL, "next", transitionRequest{UserID: userID})
}

func goBack(client *http.Client, baseURL, userID string) (*TransitionResponse, error) {
	return postTransition(client, baseURL, "back", transitionRequest{UserID: userID})
}

func getCurrent(client *http.Client, baseURL, userID string) (*TransitionResponse, error) {
	resp, err := client.Get(fmt.Sprintf("%s/v1/narrative/current?user_id=%s", baseURL, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close() // Ignore error in defer
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errorResp ErrorResponse
		if err := json.Unmarshal(body, &errorResp); err != nil {
			return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("%s", errorResp.Error)
	}

	var transition TransitionResponse
	if err := json.Unmarshal(body, &transition); err != nil {
		return nil, fmt.Errorf("failed to parse current response: %w", err)
	}
	return &transition, nil
}
