package main

import "github.com/Medal-OF-Owner/Chatlet/internal/cli"

func main() {
	cli.Execute()
}
