package main

import "github.com/vibast-solutions/ms-go-greeting/cmd"

func main() {
	cmd.Execute()
}
