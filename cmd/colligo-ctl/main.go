package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

const usage = `colligo-ctl - control the colligo job service

Usage:
  colligo-ctl [-server URL] <command> [arguments]

Commands:
  enqueue -type TYPE -payload FILE   Enqueue a job from a JSON payload file
  list [-type TYPE] [-status S] [-limit N]
                                     List jobs, newest first
  get ID                             Show one job
  watch ID                           Poll a job until it reaches a terminal state
  cancel ID                          Cancel a pending or processing job
  retry ID                           Re-pend a failed or canceled job
  materialize -payload FILE          Build and store a manifest from source specs
  version                            Print client and server versions
`

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Colligo server URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	client := &apiClient{
		base: *serverURL,
		http: &http.Client{Timeout: 5 * time.Minute},
	}

	var err error
	switch args[0] {
	case "enqueue":
		err = cmdEnqueue(client, args[1:])
	case "list":
		err = cmdList(client, args[1:])
	case "get":
		err = cmdGet(client, args[1:])
	case "watch":
		err = cmdWatch(client, args[1:])
	case "cancel":
		err = cmdAction(client, args[1:], "cancel")
	case "retry":
		err = cmdAction(client, args[1:], "retry")
	case "materialize":
		err = cmdMaterialize(client, args[1:])
	case "version":
		err = cmdVersion(client)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type apiClient struct {
	base string
	http *http.Client
}

// call performs one JSON request and decodes the response into out when the
// status is 2xx, or surfaces the server's error envelope otherwise.
func (c *apiClient) call(method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("%s (%s)", envelope.Error, resp.Status)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func cmdEnqueue(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	jobType := fs.String("type", "ingest", "Job type: ingest, checksum_update, prune")
	payloadFile := fs.String("payload", "", "Path to a JSON job payload file")
	_ = fs.Parse(args)

	if *payloadFile == "" {
		return fmt.Errorf("-payload is required")
	}
	data, err := os.ReadFile(*payloadFile)
	if err != nil {
		return err
	}
	payload, err := models.JobPayloadFromJSON(data)
	if err != nil {
		return err
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	err = client.call(http.MethodPost, "/api/jobs", map[string]interface{}{
		"type":    *jobType,
		"payload": payload,
	}, &resp)
	if err != nil {
		return err
	}
	fmt.Printf("Enqueued %s job %d\n", *jobType, resp.ID)
	return nil
}

func cmdList(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	jobType := fs.String("type", "", "Filter by job type")
	status := fs.String("status", "", "Filter by status")
	limit := fs.Int("limit", 20, "Maximum jobs to list")
	_ = fs.Parse(args)

	path := fmt.Sprintf("/api/jobs?limit=%d", *limit)
	if *jobType != "" {
		path += "&type=" + *jobType
	}
	if *status != "" {
		path += "&status=" + *status
	}

	var resp struct {
		Jobs []*models.Job `json:"jobs"`
	}
	if err := client.call(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	if len(resp.Jobs) == 0 {
		fmt.Println("No jobs")
		return nil
	}
	fmt.Printf("%-6s %-16s %-11s %-10s %s\n", "ID", "TYPE", "STATUS", "PROGRESS", "NOTE")
	for _, job := range resp.Jobs {
		note := job.ProgressNote
		if job.Error != "" {
			note = job.Error
		}
		fmt.Printf("%-6d %-16s %-11s %4d/%-5d %s\n",
			job.ID, job.Type, job.Status, job.ProgressDone, job.ProgressTotal, note)
	}
	return nil
}

func cmdGet(client *apiClient, args []string) error {
	id, err := argJobID(args)
	if err != nil {
		return err
	}
	var job models.Job
	if err := client.call(http.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &job); err != nil {
		return err
	}
	return printJSON(job)
}

// cmdWatch polls at 1 Hz until the job reaches a terminal state.
func cmdWatch(client *apiClient, args []string) error {
	id, err := argJobID(args)
	if err != nil {
		return err
	}
	for {
		var job models.Job
		if err := client.call(http.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &job); err != nil {
			return err
		}
		fmt.Printf("%s %d/%d %s\n", job.Status, job.ProgressDone, job.ProgressTotal, job.ProgressNote)
		if job.IsTerminal() {
			if job.Error != "" && job.Status != models.JobStatusCompleted {
				fmt.Printf("error: %s\n", job.Error)
			}
			return nil
		}
		time.Sleep(time.Second)
	}
}

func cmdAction(client *apiClient, args []string, action string) error {
	id, err := argJobID(args)
	if err != nil {
		return err
	}
	var resp struct {
		Status models.JobStatus `json:"status"`
	}
	if err := client.call(http.MethodPost, fmt.Sprintf("/api/jobs/%d/%s", id, action), nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Job %d is now %s\n", id, resp.Status)
	return nil
}

func cmdMaterialize(client *apiClient, args []string) error {
	fs := flag.NewFlagSet("materialize", flag.ExitOnError)
	payloadFile := fs.String("payload", "", "Path to a JSON file with sources, chunk_size, chunk_overlap")
	_ = fs.Parse(args)

	if *payloadFile == "" {
		return fmt.Errorf("-payload is required")
	}
	data, err := os.ReadFile(*payloadFile)
	if err != nil {
		return err
	}
	var req map[string]interface{}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("invalid payload file: %w", err)
	}

	var resp struct {
		ArtifactKey string `json:"artifact_key"`
		Count       int    `json:"count"`
	}
	if err := client.call(http.MethodPost, "/api/manifests", req, &resp); err != nil {
		return err
	}
	fmt.Printf("Materialized %d items as %s\n", resp.Count, resp.ArtifactKey)
	return nil
}

func cmdVersion(client *apiClient) error {
	fmt.Printf("Client version %s\n", common.GetFullVersion())
	var resp struct {
		Version string `json:"version"`
		Build   string `json:"build"`
	}
	if err := client.call(http.MethodGet, "/api/version", nil, &resp); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}
	fmt.Printf("Server version %s (build: %s)\n", resp.Version, resp.Build)
	return nil
}

func argJobID(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected exactly one job id argument")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id: %q", args[0])
	}
	return id, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
