package aggregate

import (
	"sort"
)

// DefaultTopN is the length of the top-cities list.
const DefaultTopN = 50

// City is one entry of the top-cities view.
type City struct {
	Rank                    int      `json:"rank"`
	Code                    string   `json:"code"`
	Name                    string   `json:"name"`
	DepartmentCode          string   `json:"department_code,omitempty"`
	TransactionCount        int      `json:"transaction_count"`
	HouseCount              int      `json:"house_count"`
	ApartmentCount          int      `json:"apartment_count"`
	MeanPrice               *float64 `json:"mean_price"`
	MedianPrice             *float64 `json:"median_price"`
	Q25Price                *float64 `json:"q25_price"`
	Q75Price                *float64 `json:"q75_price"`
	MedianTimeAdjustedPrice *float64 `json:"median_time_adjusted_price"`
	HouseMedianPrice        *float64 `json:"house_median_price"`
	ApartmentMedianPrice    *float64 `json:"apartment_median_price"`
	// Arrondissements lists the merged commune codes, if any.
	Arrondissements []string `json:"arrondissements,omitempty"`
}

type city struct {
	code, name string
	from, to   int
}

// Municipal arrondissements and the commune they belong to.
var arrondissementCities = []city{
	{code: "75056", name: "Paris", from: 75101, to: 75120},
	{code: "13055", name: "Marseille", from: 13201, to: 13216},
	{code: "69123", name: "Lyon", from: 69381, to: 69389},
}

// CityOf returns the commune an arrondissement code belongs to.
func CityOf(code string) (string, string, bool) {
	n := 0
	for _, c := range code {
		if c < '0' || c > '9' {
			return "", "", false
		}
		n = n*10 + int(c-'0')
	}
	for _, c := range arrondissementCities {
		if n >= c.from && n <= c.to {
			return c.code, c.name, true
		}
	}
	return "", "", false
}

// TopCities ranks communes by their all-years, all-types transaction count, ties
// broken by code. With merge set, arrondissements are folded into their city and the
// merged statistics are count-weighted means of the parts. The per-type medians come
// from the House and Apartment commune slices, weighted by the house and apartment
// counts.
func TopCities(res *Result, n int, merge bool) []City {
	if n <= 0 {
		n = DefaultTopN
	}

	var order []string
	cities := make(map[string][]GeoAggregate)
	names := make(map[string]string)
	typed := make(map[TypeSlice]map[string]*float64)
	for _, a := range res.Aggregates {
		if a.Level != LevelCommune || a.TimeSpan != SpanAll {
			continue
		}
		if a.PropertyType != TypeAll {
			if typed[a.PropertyType] == nil {
				typed[a.PropertyType] = make(map[string]*float64)
			}
			typed[a.PropertyType][a.GeoCode] = a.MedianPrice
			continue
		}
		code, name := a.GeoCode, a.GeoName
		if merge {
			if c, cn, ok := CityOf(a.GeoCode); ok {
				code, name = c, cn
			}
		}
		if _, ok := cities[code]; !ok {
			order = append(order, code)
		}
		cities[code] = append(cities[code], a)
		if names[code] == "" || code != a.GeoCode {
			names[code] = name
		}
	}

	out := make([]City, 0, len(order))
	for _, code := range order {
		c := combine(code, names[code], cities[code], typed)
		if c.TransactionCount > 0 {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransactionCount != out[j].TransactionCount {
			return out[i].TransactionCount > out[j].TransactionCount
		}
		return out[i].Code < out[j].Code
	})
	if len(out) > n {
		out = out[:n]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func combine(code, name string, parts []GeoAggregate, typed map[TypeSlice]map[string]*float64) City {
	c := City{Code: code, Name: name}
	if len(parts) == 1 && parts[0].GeoCode == code {
		p := parts[0]
		c.DepartmentCode = p.ParentCode
		c.TransactionCount, c.HouseCount, c.ApartmentCount = p.TransactionCount, p.HouseCount, p.ApartmentCount
		c.MeanPrice, c.MedianPrice = p.MeanPrice, p.MedianPrice
		c.Q25Price, c.Q75Price = p.Q25Price, p.Q75Price
		c.MedianTimeAdjustedPrice = p.MedianTimeAdjustedPrice
		c.HouseMedianPrice = typed[TypeHouse][code]
		c.ApartmentMedianPrice = typed[TypeApartment][code]
		return c
	}

	var mean, median, q25, q75, adjusted, house, apartment weighted
	for _, p := range parts {
		if p.GeoCode != code {
			c.Arrondissements = append(c.Arrondissements, p.GeoCode)
		}
		if c.DepartmentCode == "" {
			c.DepartmentCode = p.ParentCode
		}
		c.TransactionCount += p.TransactionCount
		c.HouseCount += p.HouseCount
		c.ApartmentCount += p.ApartmentCount
		w := float64(p.TransactionCount)
		mean.add(p.MeanPrice, w)
		median.add(p.MedianPrice, w)
		q25.add(p.Q25Price, w)
		q75.add(p.Q75Price, w)
		adjusted.add(p.MedianTimeAdjustedPrice, w)
		house.add(typed[TypeHouse][p.GeoCode], float64(p.HouseCount))
		apartment.add(typed[TypeApartment][p.GeoCode], float64(p.ApartmentCount))
	}
	sort.Strings(c.Arrondissements)
	c.MeanPrice, c.MedianPrice = mean.value(), median.value()
	c.Q25Price, c.Q75Price = q25.value(), q75.value()
	c.MedianTimeAdjustedPrice = adjusted.value()
	c.HouseMedianPrice, c.ApartmentMedianPrice = house.value(), apartment.value()
	return c
}

// weighted accumulates a weighted mean of optional values.
type weighted struct {
	sum, weight float64
}

func (w *weighted) add(v *float64, weight float64) {
	if v == nil || weight <= 0 {
		return
	}
	w.sum += *v * weight
	w.weight += weight
}

func (w *weighted) value() *float64 {
	if w.weight == 0 {
		return nil
	}
	return ptr(w.sum / w.weight)
}
