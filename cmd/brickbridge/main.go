// cmd/brickbridge/main.go
package main

func main() {
	Execute()
}
