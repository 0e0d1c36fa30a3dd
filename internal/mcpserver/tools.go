package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/maltedev/phone-spec-scraper/internal/format"
	"github.com/maltedev/phone-spec-scraper/internal/models"
	"github.com/maltedev/phone-spec-scraper/internal/scraper"
)

const (
	defaultMaxResults = 5
	maxResultsLimit   = 20
)

// Searcher is the orchestrator surface exposed as tools.
type Searcher interface {
	SearchAll(ctx context.Context, query string, enabled []models.Site, maxPerSite int) *models.Envelope
	GetDetails(ctx context.Context, url string) (*models.Phone, error)
	GetDetailsMany(ctx context.Context, urls []string) ([]*models.Phone, map[string]error)
	SiteFor(url string) (scraper.Site, error)
	Sites() []models.Site
	Site(tag models.Site) (scraper.Site, bool)
}

type priceComparer interface {
	PriceComparisons(ctx context.Context, url string) ([]models.PriceOffer, error)
}

type tools struct {
	scraper      Searcher
	defaultSites []models.Site
}

func (t *tools) register(s *server.MCPServer) {
	searchTool := mcp.NewTool("search_phones",
		mcp.WithDescription("Search phone catalogs (gsmarena, 91mobiles, kimovil) and return matching phones"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Phone name or brand, e.g. \"Galaxy S24\""),
		),
		mcp.WithString("sites",
			mcp.Description("Comma-separated sites to search (default: gsmarena)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum phones per site, 1-20 (default: 5)"),
		),
		mcp.WithBoolean("detailed",
			mcp.Description("Return the detailed view with categorized specs"),
		),
	)
	s.AddTool(searchTool, t.handleSearchPhones)

	detailTool := mcp.NewTool("phone_details",
		mcp.WithDescription("Get full specifications of one phone page"),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("Phone page URL on a supported site"),
		),
		mcp.WithBoolean("prices",
			mcp.Description("Also list per-store prices (kimovil only)"),
		),
	)
	s.AddTool(detailTool, t.handlePhoneDetails)

	compareTool := mcp.NewTool("compare_phones",
		mcp.WithDescription("Compare the specifications of two or more phone pages"),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Phone page URLs"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	)
	s.AddTool(compareTool, t.handleComparePhones)

	sitesTool := mcp.NewTool("list_sites",
		mcp.WithDescription("List the supported catalog sites"),
	)
	s.AddTool(sitesTool, t.handleListSites)
}

func (t *tools) handleSearchPhones(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := strings.TrimSpace(request.GetString("query", ""))
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	maxResults := request.GetInt("max_results", defaultMaxResults)
	if maxResults < 1 || maxResults > maxResultsLimit {
		return mcp.NewToolResultError("max_results must be between 1 and 20"), nil
	}

	sites := t.defaultSites
	if raw := request.GetString("sites", ""); raw != "" {
		parsed, err := models.ParseSites(strings.Split(raw, ","))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		sites = parsed
	}

	env := t.scraper.SearchAll(ctx, query, sites, maxResults)
	if request.GetBool("detailed", false) {
		return jsonResult(format.ToDetailedView(env))
	}
	return jsonResult(env)
}

func (t *tools) handlePhoneDetails(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url := strings.TrimSpace(request.GetString("url", ""))
	if url == "" {
		return mcp.NewToolResultError("url is required"), nil
	}

	phone, err := t.scraper.GetDetails(ctx, url)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("detail error: %v", err)), nil
	}

	if !request.GetBool("prices", false) {
		return jsonResult(phone)
	}

	site, err := t.scraper.SiteFor(url)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	comparer, ok := site.(priceComparer)
	if !ok {
		return mcp.NewToolResultError("price comparison is not available for " + site.Name().String()), nil
	}
	offers, err := comparer.PriceComparisons(ctx, url)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("price error: %v", err)), nil
	}

	return jsonResult(map[string]any{"phone": phone, "prices": offers})
}

func (t *tools) handleComparePhones(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urls := request.GetStringSlice("urls", nil)
	if len(urls) < 2 {
		return mcp.NewToolResultError("at least 2 urls are required"), nil
	}

	phones, failures := t.scraper.GetDetailsMany(ctx, urls)
	if len(phones) < 2 {
		return mcp.NewToolResultError(fmt.Sprintf("need at least 2 phones to compare, loaded %d", len(phones))), nil
	}

	failed := make(map[string]string, len(failures))
	for u, err := range failures {
		failed[u] = err.Error()
	}
	return jsonResult(map[string]any{"comparison": scraper.Compare(phones), "failed": failed})
}

func (t *tools) handleListSites(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	type siteInfo struct {
		Name   models.Site `json:"name"`
		Domain string      `json:"domain"`
	}
	var sites []siteInfo
	for _, tag := range t.scraper.Sites() {
		if s, ok := t.scraper.Site(tag); ok {
			sites = append(sites, siteInfo{Name: tag, Domain: s.Domain()})
		}
	}
	return jsonResult(sites)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode error: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
