// Gleaner is a feed reader that keeps its subscriptions tidy.
//
// It polls RSS and Atom feeds into SQLite or PostgreSQL and hides old,
// read or surplus items according to per-feed retention preferences.
//
// Usage:
//
//	# Serve the API, poll feeds and run scheduled retention
//	gleaner serve --config gleaner.yaml
//
//	# Run retention once over every feed
//	gleaner retain
//
//	# Preview what retention would hide in one feed
//	gleaner retain --feed 12 --dry-run
//
//	# Import subscriptions
//	gleaner import subscriptions.opml
package main

func main() {
	Execute()
}
