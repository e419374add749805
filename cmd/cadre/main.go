// Command cadre runs a goal through the develop, review and improve pipeline.
package main

func main() {
	Execute()
}
