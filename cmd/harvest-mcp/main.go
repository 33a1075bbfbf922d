package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/use-agent/harvest/models"
)

const version = "0.1.0"

var dataTypes = []string{
	models.DataTypeGeneral,
	models.DataTypeProduct,
	models.DataTypeReview,
	models.DataTypeCustom,
	models.DataTypePatternDetection,
}

func main() {
	apiURL := os.Getenv("HARVEST_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	// The key is optional: servers without auth accept anonymous calls.
	apiKey := os.Getenv("HARVEST_API_KEY")

	client := newAPIClient(apiURL, apiKey, 180*time.Second)

	s := server.NewMCPServer(
		"harvest",
		version,
		server.WithToolCapabilities(false),
	)

	classifyTool := mcp.NewTool("classify_url",
		mcp.WithDescription("Decide whether a URL needs a headless browser or can be fetched with a plain HTTP request, and explain why."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to classify"),
		),
	)
	s.AddTool(classifyTool, handleClassify(client))

	fetchTool := mcp.NewTool("fetch_page",
		mcp.WithDescription("Fetch the raw HTML of a page, escalating from HTTP to a headless browser when the page is blocked or client-rendered."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to fetch"),
		),
		mcp.WithString("method",
			mcp.Description("Force a fetch path: 'static' or 'browser'. Omit to let the classifier decide."),
			mcp.Enum(string(models.MethodStatic), string(models.MethodBrowser)),
		),
	)
	s.AddTool(fetchTool, handleFetch(client))

	scrapeTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Fetch a page and extract structured data: general page info, product details, reviews, custom selectors, or repeated patterns."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to scrape"),
		),
		mcp.WithString("data_type",
			mcp.Description("What to extract (default: 'general', or the matching template's type)"),
			mcp.Enum(dataTypes...),
		),
		mcp.WithString("selectors",
			mcp.Description(`JSON object of field name to CSS/XPath selector, e.g. {"title":"h1","price":".price"}. Implies data_type 'custom'.`),
		),
		mcp.WithString("template",
			mcp.Description("Name of a server-side selector template to apply"),
		),
		mcp.WithBoolean("load_more",
			mcp.Description("Click 'load more' controls before extracting (browser only)"),
		),
	)
	s.AddTool(scrapeTool, handleScrape(client))

	patternsTool := mcp.NewTool("detect_patterns",
		mcp.WithDescription("Find repeated structures on a page (product cards, review blocks, list items) and report their selectors and counts."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to analyse"),
		),
	)
	s.AddTool(patternsTool, handleDetectPatterns(client))

	extractTool := mcp.NewTool("extract_html",
		mcp.WithDescription("Extract structured data from HTML you already have, without fetching anything."),
		mcp.WithString("html",
			mcp.Required(),
			mcp.Description("The HTML document"),
		),
		mcp.WithString("url",
			mcp.Description("The page URL, used to resolve relative links and match templates"),
		),
		mcp.WithString("data_type",
			mcp.Description("What to extract (default: 'general')"),
			mcp.Enum(dataTypes...),
		),
		mcp.WithString("selectors",
			mcp.Description("JSON object of field name to CSS/XPath selector"),
		),
	)
	s.AddTool(extractTool, handleExtractHTML(client))

	batchTool := mcp.NewTool("batch_scrape",
		mcp.WithDescription("Scrape many URLs concurrently with the same extraction options and return one result per URL."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to scrape"),
		),
		mcp.WithString("data_type",
			mcp.Description("What to extract from every page"),
			mcp.Enum(dataTypes...),
		),
		mcp.WithString("mode",
			mcp.Description("'pool' (fixed worker pool, default) or 'async' (bounded fan-out)"),
			mcp.Enum(models.BatchModePool, models.BatchModeAsync),
		),
	)
	s.AddTool(batchTool, handleBatchScrape(client))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleClassify(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		var out struct {
			models.ClassifyResponse
			Error *models.ErrorDetail `json:"error"`
		}
		if err := c.post(ctx, "/api/v1/classify", models.ClassifyRequest{URL: url}, &out); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if out.Error != nil {
			return mcp.NewToolResultError(errorText(out.Error)), nil
		}

		text := fmt.Sprintf("Method: %s\nReason: %s", out.Method, out.Reason)
		if out.Detail != "" {
			text += "\nDetail: " + out.Detail
		}
		return mcp.NewToolResultText(text), nil
	}
}

func handleFetch(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		req := models.ScrapeRequest{URL: url}
		req.Method = models.Method(request.GetString("method", ""))

		var out models.FetchResponse
		if err := c.post(ctx, "/api/v1/fetch", req, &out); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if !out.Success {
			return mcp.NewToolResultError(errorText(out.Error)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "URL: %s\nMethod: %s (attempts: %d, escalated: %t)\n", out.FinalURL, out.MethodUsed, out.Attempts, out.Escalated)
		if out.Title != "" {
			fmt.Fprintf(&sb, "Title: %s\n", out.Title)
		}
		sb.WriteString("\n")
		sb.WriteString(out.Content)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleScrape(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		req := models.ScrapeRequest{URL: url}
		req.DataType = request.GetString("data_type", "")
		req.Template = request.GetString("template", "")
		req.LoadMore = request.GetBool("load_more", false)
		if raw := request.GetString("selectors", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Selectors); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("selectors must be a JSON object: %v", err)), nil
			}
		}
		return scrapeResult(ctx, c, "/api/v1/scrape", req)
	}
}

func handleDetectPatterns(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		req := models.ScrapeRequest{URL: url}
		req.DataType = models.DataTypePatternDetection
		req.NoTemplate = true
		return scrapeResult(ctx, c, "/api/v1/scrape", req)
	}
}

func handleExtractHTML(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		html, err := request.RequireString("html")
		if err != nil {
			return mcp.NewToolResultError("html is required"), nil
		}

		req := models.ExtractRequest{HTML: html, URL: request.GetString("url", "")}
		req.DataType = request.GetString("data_type", "")
		if raw := request.GetString("selectors", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Selectors); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("selectors must be a JSON object: %v", err)), nil
			}
		}
		return scrapeResult(ctx, c, "/api/v1/extract", req)
	}
}

func handleBatchScrape(c *apiClient) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil {
			return mcp.NewToolResultError("urls is required and must be an array of strings"), nil
		}

		req := models.BatchRequest{URLs: urls, Mode: request.GetString("mode", "")}
		req.Options.DataType = request.GetString("data_type", "")

		var created struct {
			models.BatchResponse
			Error *models.ErrorDetail `json:"error"`
		}
		if err := c.post(ctx, "/api/v1/batch/scrape", req, &created); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if created.ID == "" {
			return mcp.NewToolResultError("batch job creation failed: " + errorText(created.Error)), nil
		}

		st, err := c.waitBatch(ctx, created.ID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling batch job failed: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Batch %s: %s (%d/%d completed, %d failed)\n\n", st.ID, st.Status, st.Completed, st.Total, st.Failed)
		for i, r := range st.Results {
			if !r.Success {
				fmt.Fprintf(&sb, "--- [%d] %s FAILED: %s ---\n\n", i+1, r.URL, errorText(r.Error))
				continue
			}
			fmt.Fprintf(&sb, "--- [%d] %s (%s via %s) ---\n%s\n\n", i+1, r.URL, r.DataType, r.MethodUsed, prettyJSON(r.Data))
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// scrapeResult posts a request whose response is a ScrapeResult and
// renders the extracted record.
func scrapeResult(ctx context.Context, c *apiClient, path string, payload any) (*mcp.CallToolResult, error) {
	var out models.ScrapeResult
	if err := c.post(ctx, path, payload, &out); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !out.Success {
		return mcp.NewToolResultError(errorText(out.Error)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Source: %s\nData type: %s\n", out.URL, out.DataType)
	if out.MethodUsed != "" {
		fmt.Fprintf(&sb, "Method: %s\n", out.MethodUsed)
	}
	if out.Template != "" {
		fmt.Fprintf(&sb, "Template: %s\n", out.Template)
	}
	sb.WriteString("\n")
	sb.WriteString(prettyJSON(out.Data))
	return mcp.NewToolResultText(sb.String()), nil
}

func errorText(d *models.ErrorDetail) string {
	if d == nil {
		return "unknown error"
	}
	return fmt.Sprintf("[%s] %s", d.Code, d.Message)
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
