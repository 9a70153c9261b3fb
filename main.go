/*
Copyright © 2025 TrainTrack <dev@traintrack.ai>
*/
package main

import "github.com/traintrack-ai/traintrack-cli/cmd"

func main() {
	cmd.Execute()
}
