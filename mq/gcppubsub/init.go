package gcppubsub

import (
	"fmt"
	"os"
)

func GetGCPProjectID() (string, error) {
	projectID := os.Getenv("GCP_PROJECT_ID")
	if projectID == "" {
		return "", fmt.Errorf("GCP_PROJECT_ID environment variable must be set")
	}
	return projectID, nil
}
