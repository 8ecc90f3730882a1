package instance

import "os"

// GetID identifies this process in log output so replicas behind the webhook
// load balancer can be told apart. Falls back to a fixed name for single
// instance deployments.
func GetID() string {
	if id := os.Getenv("PAYHOOK_INSTANCE_ID"); id != "" {
		return id
	}
	return "payhook-0"
}
