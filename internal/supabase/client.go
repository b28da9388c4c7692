package supabase

import (
	"errors"

	"github.com/supabase-community/supabase-go"
)

// Client wraps the Supabase API client used for realtime event publishing.
type Client struct {
	Supabase *supabase.Client
}

func NewClient(projectURL, apiKey string) (*Client, error) {
	if projectURL == "" || apiKey == "" {
		return nil, errors.New("supabase url and api key are required")
	}

	client, err := supabase.NewClient(projectURL, apiKey, nil)
	if err != nil {
		return nil, err
	}
	return &Client{Supabase: client}, nil
}
