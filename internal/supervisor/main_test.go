package supervisor

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"testing"
)

// workerModeEnv turns the test binary into a fake worker (see runFakeWorker).
const workerModeEnv = "SIDECAR_TEST_WORKER_MODE"

func TestMain(m *testing.M) {
	if mode := os.Getenv(workerModeEnv); mode != "" {
		os.Exit(runFakeWorker(mode, os.Args[1:]))
	}
	os.Exit(m.Run())
}

// runFakeWorker mimics the real worker's command line. Modes:
//
//	serve  answer GET /api/health with 200 until killed
//	exit   print a line and exit with status 3
func runFakeWorker(mode string, args []string) int {
	var port int
	host := "127.0.0.1"
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--port":
			port, _ = strconv.Atoi(args[i+1])
		case "--host":
			host = args[i+1]
		}
	}

	switch mode {
	case "exit":
		fmt.Println("fake worker exiting early")
		return 3
	case "serve":
		fmt.Printf("fake worker listening on %s:%d\n", host, port)
		fmt.Fprintln(os.Stderr, "fake worker stderr line")
		mux := http.NewServeMux()
		mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		_ = http.Serve(ln, mux)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown fake worker mode %q\n", mode)
		return 2
	}
}
