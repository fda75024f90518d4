package main

import "github.com/brensch/zipmailer/cmd"

func main() {
	cmd.Execute()
}
