package httpapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/country-weather-tracker/internal/directory"
	"github.com/i474232898/country-weather-tracker/internal/store"
	"github.com/i474232898/country-weather-tracker/internal/weather"
)

var validate = validator.New()

// Directory is the country-directory surface the API passes through to.
type Directory interface {
	All(ctx context.Context) ([]directory.Country, error)
	ByName(ctx context.Context, name string) ([]directory.Country, error)
	ByRegion(ctx context.Context, region string) ([]directory.Country, error)
	BySubregion(ctx context.Context, subregion string) ([]directory.Country, error)
	Details(ctx context.Context, code string) (directory.CountryDetails, error)
}

// Runner triggers the bulk weather ETL.
type Runner interface {
	RunAll(ctx context.Context) (weather.RunLog, error)
}

// Deps bundles the collaborators the HTTP layer needs.
type Deps struct {
	Directory Directory
	Favorites store.FavoritesStore
	Weather   weather.Store
	Gateway   *weather.CacheGateway
	Runner    Runner
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/countries", func(c *fiber.Ctx) error {
		countries, err := deps.Directory.All(c.Context())
		if err != nil {
			return directoryError(err)
		}
		return c.JSON(countries)
	})

	v1.Get("/countries/by-name/:name", func(c *fiber.Ctx) error {
		countries, err := deps.Directory.ByName(c.Context(), c.Params("name"))
		if err != nil {
			return directoryError(err)
		}
		return c.JSON(countries)
	})

	v1.Get("/countries/by-region/:region", func(c *fiber.Ctx) error {
		countries, err := deps.Directory.ByRegion(c.Context(), c.Params("region"))
		if err != nil {
			return directoryError(err)
		}
		return c.JSON(countries)
	})

	v1.Get("/countries/by-subregion/:subregion", func(c *fiber.Ctx) error {
		countries, err := deps.Directory.BySubregion(c.Context(), c.Params("subregion"))
		if err != nil {
			return directoryError(err)
		}
		return c.JSON(countries)
	})

	// Favorites before /countries/:code so "saved" is not read as a code.
	v1.Post("/countries/saved", func(c *fiber.Ctx) error {
		var req saveCountryRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		saved, err := deps.Favorites.SaveCountry(c.Context(), store.SavedCountry{
			CCA3:    req.CCA3,
			Name:    req.Name,
			Region:  req.Region,
			FlagURL: req.FlagURL,
		})
		if err != nil {
			if errors.Is(err, weather.ErrInvalidCountryCode) {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to save country")
		}

		message := fmt.Sprintf("%q saved", req.Name)
		if !saved {
			message = fmt.Sprintf("%q was already saved", req.Name)
		}
		return c.JSON(fiber.Map{"message": message})
	})

	v1.Get("/countries/saved", func(c *fiber.Ctx) error {
		saved, err := deps.Favorites.ListSaved(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list saved countries")
		}
		if saved == nil {
			saved = []store.SavedCountry{}
		}
		return c.JSON(saved)
	})

	v1.Delete("/countries/saved/:code", func(c *fiber.Ctx) error {
		err := deps.Favorites.DeleteCountry(c.Context(), c.Params("code"))
		switch {
		case errors.Is(err, weather.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "country not in saved list")
		case errors.Is(err, weather.ErrInvalidCountryCode):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, "failed to delete country")
		}
		return c.JSON(fiber.Map{"message": fmt.Sprintf("country %q removed from saved list", c.Params("code"))})
	})

	v1.Get("/countries/:code", func(c *fiber.Ctx) error {
		details, err := deps.Directory.Details(c.Context(), c.Params("code"))
		if err != nil {
			return directoryError(err)
		}
		return c.JSON(details)
	})

	v1.Get("/weather/:code", func(c *fiber.Ctx) error {
		force := c.QueryBool("force", false)

		res, err := deps.Gateway.Get(c.Context(), c.Params("code"), force)
		if err != nil {
			// A rejected payload with no stored fallback is "no data yet",
			// not a hard failure; the raw record was still persisted.
			if errors.Is(err, weather.ErrAllFieldsUnavailable) || errors.Is(err, weather.ErrInvalidTimestamp) {
				return c.JSON(fiber.Map{
					"message": fmt.Sprintf("no usable weather data for %s yet", c.Params("code")),
				})
			}
			return weatherError(c.Params("code"), err)
		}
		return c.JSON(toWeatherResponse(res))
	})

	v1.Get("/weather/:code/cleaned", func(c *fiber.Ctx) error {
		code, ok := weather.NormalizeCode(c.Params("code"))
		if !ok {
			return fiber.NewError(fiber.StatusBadRequest, "country code must be 3 letters")
		}

		rec, err := deps.Weather.GetCleaned(c.Context(), code)
		if err != nil {
			if errors.Is(err, weather.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("no cleaned weather data for %s", code))
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read cleaned weather data")
		}
		return c.JSON(toWeatherResponse(weather.Result{Record: rec}))
	})

	v1.Post("/pipeline/run-weather-etl", func(c *fiber.Ctx) error {
		rl, err := deps.Runner.RunAll(c.Context())
		if err != nil {
			if errors.Is(err, weather.ErrRunInProgress) {
				return fiber.NewError(fiber.StatusConflict, "a pipeline run is already in progress")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "pipeline run failed")
		}

		failures := rl.Failures()
		if failures == nil {
			failures = []weather.Failure{}
		}
		return c.JSON(fiber.Map{
			"run_id":              rl.RunID,
			"countries_processed": len(rl.Statuses),
			"countries_failed":    rl.FailureCount(),
			"failures":            failures,
			"backup_ref":          rl.BackupRef,
		})
	})
}

// saveCountryRequest is the favorites insert payload.
type saveCountryRequest struct {
	CCA3    string `json:"cca3" validate:"required,len=3,alpha"`
	Name    string `json:"name" validate:"required"`
	Region  string `json:"region"`
	FlagURL string `json:"flag_url" validate:"required,url"`
}

// weatherResponse is the interactive weather view. Unusable measurements
// render as the literal string "unavailable".
type weatherResponse struct {
	CountryCode string           `json:"country_code"`
	Temperature any              `json:"temperature"`
	Windspeed   any              `json:"windspeed"`
	Time        time.Time        `json:"time"`
	LastUpdated time.Time        `json:"last_updated"`
	Validity    weather.Validity `json:"validity"`
	Message     string           `json:"message,omitempty"`
}

func toWeatherResponse(res weather.Result) weatherResponse {
	resp := weatherResponse{
		CountryCode: res.Record.Code,
		Temperature: measurement(res.Record.Temperature),
		Windspeed:   measurement(res.Record.Windspeed),
		Time:        res.Record.MeasurementTime,
		LastUpdated: res.Record.LastUpdated,
		Validity:    res.Record.Validity,
	}
	if res.Degraded {
		resp.Message = fmt.Sprintf("refresh failed (%v); serving last stored record", res.RefreshErr)
	}
	return resp
}

func measurement(v *float64) any {
	if v == nil {
		return "unavailable"
	}
	return *v
}

func directoryError(err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no matching countries")
	}
	return fiber.NewError(fiber.StatusBadGateway, "error contacting country directory")
}

func weatherError(code string, err error) error {
	switch {
	case errors.Is(err, weather.ErrInvalidCountryCode):
		return fiber.NewError(fiber.StatusBadRequest, "country code must be 3 letters")
	case errors.Is(err, directory.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown country code %q", code))
	case errors.Is(err, weather.ErrUpstreamUnavailable):
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("weather provider unavailable for %s", code))
	default:
		return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
	}
}
