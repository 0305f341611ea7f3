// Package serial ingests the two serial devices of a livestock weigh station,
// an RFID/barcode scanner and a digital scale, and turns their raw byte streams
// into discrete decoded values.
//
// Each device is owned by a Channel. A Channel holds one open Port, one
// FrameBuffer and one Extractor, and runs a read loop for as long as it is
// connected. Bytes are accumulated until a line terminator arrives, every
// complete line is run through the channel's extractor, and every value found
// is published on the Manager's event bus as a "scanner-data" or "scale-data"
// event. Frames do not need to line up with reads: a tag split across two
// reads is still delivered once.
//
// Features:
//   - Raw termios driver on Linux with a self-pipe so a pending read can be
//     cancelled before the port is released
//   - Portable driver on top of go.bug.st/serial for every other host
//   - Bounded line buffer that survives devices that never send a terminator
//   - Non-blocking event delivery: slow subscribers lose old events, the read
//     loops never stall
//   - Connection status notifications that tell user disconnects apart from
//     unexpected ones
//
// Example usage:
//
//	mgr, err := serial.NewManager(serial.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	sub := mgr.Subscribe(16)
//	defer sub.Close()
//
//	cfg := serial.DefaultPortConfig()
//	cfg.Device = "/dev/ttyUSB0"
//	if err := mgr.ConnectScanner(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
//
//	for ev := range sub.C() {
//	    switch ev.Type {
//	    case serial.EventScannerData:
//	        fmt.Println("rfid:", ev.RFID)
//	    case serial.EventScaleData:
//	        fmt.Println("weight:", ev.Weight)
//	    }
//	}
//
// The Manager is meant to be built once by the program's composition root and
// passed to whatever needs it; there is no package-level instance.
package serial
