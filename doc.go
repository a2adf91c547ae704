// Package serial provides the line-oriented serial transports used by the
// sentence router.
//
// Two backends are available behind the LineReader interface:
//   - "termios": a Linux-only raw syscall reader with a self-pipe for
//     killability and no buffering delays
//   - "portable": go.bug.st/serial, usable on every platform it supports
//
// Each ReadLine call is bounded by Config.ReadTimeout. When the timeout
// expires before a full line arrives, ReadLine returns ErrReadTimeout and any
// partial bytes are kept for the next call.
//
// Example usage:
//
//	reader, err := serial.Open(serial.Config{
//	    Device:      "/dev/ttyACM0",
//	    BaudRate:    115200,
//	    Delimiter:   "\n",
//	    ReadTimeout: time.Second,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reader.Close()
//
//	for {
//	    line, err := reader.ReadLine()
//	    if errors.Is(err, serial.ErrClosed) {
//	        return
//	    }
//	    if err != nil {
//	        continue
//	    }
//	    fmt.Println("Received:", line)
//	}
package serial
