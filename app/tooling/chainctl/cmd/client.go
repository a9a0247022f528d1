package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
)

var client = http.Client{Timeout: 5 * time.Minute}

// send is a helper function to send an HTTP request to the node.
func send(method, url string, dataSend any, dataRcv any) error {
	var body io.Reader

	if dataSend != nil {
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			return fmt.Errorf("node responded %s", resp.Status)
		}
		return errors.New(er.Error)
	}

	if dataRcv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRcv); err != nil {
			return err
		}
	}

	return nil
}

func printStatus(w io.Writer, st syncer.Status) {
	fmt.Fprintf(w, "State:          %s\n", st.State)
	fmt.Fprintf(w, "Height:         %d\n", st.Height)
	fmt.Fprintf(w, "Hash:           %s\n", st.Hash)
	fmt.Fprintf(w, "Last Download:  %d\n", st.LastDownloaded)
	fmt.Fprintf(w, "Queue:          %d (running %t, paused %t)\n", st.QueueDepth, st.QueueRunning, st.QueuePaused)
	fmt.Fprintf(w, "Synced:         %t\n", st.Synced)
}
